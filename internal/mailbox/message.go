package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"google.golang.org/api/gmail/v1"

	"Mail2Ledger/internal/checksum"
	"Mail2Ledger/internal/workbook"
)

// Attachment is one eligible spreadsheet attached to a message.
type Attachment struct {
	Name   string
	Data   []byte
	SHA256 string
	Size   int
}

// Message is the part of an inbound email the pipeline reads.
type Message struct {
	ID          string
	From        string
	Subject     string
	Date        string
	Body        string
	Attachments []Attachment
}

var emailPattern = regexp.MustCompile(`[\w.\-+]+@[\w.\-]+\.\w+`)

// Address returns the bare email address of a From header, or "" when none is present.
func Address(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return emailPattern.FindString(from)
}

func header(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// walkParts visits p and every nested part, depth first.
func walkParts(p *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if p == nil {
		return
	}
	fn(p)
	for _, c := range p.Parts {
		walkParts(c, fn)
	}
}

func decodeData(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

var (
	brTag     = regexp.MustCompile(`(?i)<br\s*/?>`)
	closePTag = regexp.MustCompile(`(?i)</p\s*>`)
	anyTag    = regexp.MustCompile(`<[^>]+>`)
)

func stripHTML(s string) string {
	s = brTag.ReplaceAllString(s, "\n")
	s = closePTag.ReplaceAllString(s, "\n")
	return anyTag.ReplaceAllString(s, "")
}

// bodyText prefers text/plain parts and falls back to tag-stripped HTML.
func bodyText(payload *gmail.MessagePart) string {
	var texts, htmls []string
	walkParts(payload, func(p *gmail.MessagePart) {
		if p.Filename != "" || p.Body == nil || p.Body.Data == "" {
			return
		}
		raw, err := decodeData(p.Body.Data)
		if err != nil {
			return
		}
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain"):
			texts = append(texts, string(raw))
		case strings.HasPrefix(p.MimeType, "text/html"):
			htmls = append(htmls, string(raw))
		}
	})
	if len(texts) > 0 {
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}
	if len(htmls) > 0 {
		return strings.TrimSpace(stripHTML(strings.Join(htmls, "\n")))
	}
	return ""
}

// attachmentRef is an eligible part whose bytes may still need fetching.
type attachmentRef struct {
	name         string
	attachmentID string
	inline       string
}

func attachmentRefs(payload *gmail.MessagePart, allowXLS bool) []attachmentRef {
	var refs []attachmentRef
	walkParts(payload, func(p *gmail.MessagePart) {
		if p.Filename == "" || p.Body == nil || !workbook.IsSpreadsheet(p.Filename, allowXLS) {
			return
		}
		refs = append(refs, attachmentRef{name: p.Filename, attachmentID: p.Body.AttachmentId, inline: p.Body.Data})
	})
	return refs
}

func newAttachment(name string, data []byte) Attachment {
	return Attachment{Name: name, Data: data, SHA256: checksum.Sum(data), Size: len(data)}
}

// buildRaw renders a plain-text RFC 822 message, base64url encoded for the Gmail API.
func buildRaw(to, subject, body string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	enc := base64.StdEncoding.EncodeToString([]byte(body))
	for len(enc) > 76 {
		b.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc + "\r\n")
	return base64.URLEncoding.EncodeToString(b.Bytes())
}
