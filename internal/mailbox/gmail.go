package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"Mail2Ledger/internal/config"
)

const me = "me"

var (
	ErrLabelNotFound = errors.New("gmail label not found")
	ErrNoToken       = errors.New("gmail token file missing; run `ledgerctl auth` first")
)

var scopes = []string{gmail.GmailModifyScope, gmail.GmailSendScope}

// Gmail reads statements from and sends notices through one Gmail account.
type Gmail struct {
	svc      *gmail.Service
	allowXLS bool
	labels   map[string]string
}

// OAuthConfig loads the installed-app client secrets.
func OAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	return google.ConfigFromJSON(b, scopes...)
}

func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode gmail token: %w", err)
	}
	return tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save gmail token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

func NewGmail(ctx context.Context, cfg config.MailConfig) (*Gmail, error) {
	oc, err := OAuthConfig(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oc.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Gmail{svc: svc, allowXLS: cfg.AllowXLS, labels: map[string]string{}}, nil
}

// ResolveLabel maps a label name as shown in the Gmail UI to its id.
func (g *Gmail) ResolveLabel(ctx context.Context, name string) (string, error) {
	if id, ok := g.labels[name]; ok {
		return id, nil
	}
	resp, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range resp.Labels {
		g.labels[l.Name] = l.Id
	}
	if id, ok := g.labels[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrLabelNotFound, name)
}

// List returns up to max message ids matching query under labelID, newest first.
func (g *Gmail) List(ctx context.Context, labelID, query string, max int64) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := g.svc.Users.Messages.List(me).Q(query).MaxResults(min(max, 500)).Context(ctx)
		if labelID != "" {
			call = call.LabelIds(labelID)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if int64(len(ids)) >= max {
			return ids[:max], nil
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Get fetches one message with its body text and eligible attachments.
func (g *Gmail) Get(ctx context.Context, id string) (*Message, error) {
	m, err := g.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	msg := &Message{
		ID:      m.Id,
		From:    header(m.Payload, "From"),
		Subject: header(m.Payload, "Subject"),
		Date:    header(m.Payload, "Date"),
		Body:    bodyText(m.Payload),
	}
	for _, ref := range attachmentRefs(m.Payload, g.allowXLS) {
		data := ref.inline
		if ref.attachmentID != "" {
			body, err := g.svc.Users.Messages.Attachments.Get(me, id, ref.attachmentID).Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("get attachment %s of %s: %w", ref.name, id, err)
			}
			data = body.Data
		}
		if data == "" {
			continue
		}
		raw, err := decodeData(data)
		if err != nil {
			return nil, fmt.Errorf("decode attachment %s of %s: %w", ref.name, id, err)
		}
		msg.Attachments = append(msg.Attachments, newAttachment(ref.name, raw))
	}
	return msg, nil
}

// MarkRead removes the UNREAD label, which takes the message out of the default query.
func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	_, err := g.svc.Users.Messages.Modify(me, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	return nil
}

// Send delivers a plain-text message from the authenticated account.
func (g *Gmail) Send(ctx context.Context, to, subject, body string) error {
	_, err := g.svc.Users.Messages.Send(me, &gmail.Message{Raw: buildRaw(to, subject, body)}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}
