package ingest

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"Mail2Ledger/internal/archive"
	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/logger"
	"Mail2Ledger/internal/mailbox"
	"Mail2Ledger/internal/registry"
)

// Mailbox is the inbound message source.
type Mailbox interface {
	ResolveLabel(ctx context.Context, name string) (string, error)
	List(ctx context.Context, labelID, query string, max int64) ([]string, error)
	Get(ctx context.Context, id string) (*mailbox.Message, error)
	MarkRead(ctx context.Context, id string) error
}

type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// Registry is the durable at-most-once marker per attachment.
type Registry interface {
	Exists(ctx context.Context, e registry.Entry) (bool, error)
	Record(ctx context.Context, e registry.Entry) (bool, error)
}

type Archiver interface {
	Store(ctx context.Context, o archive.Object) (string, error)
}

type FileIngester interface {
	IngestFile(ctx context.Context, job Job) (FileResult, error)
}

type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "failed"
}

// Result is the outcome of one message.
type Result struct {
	MessageID string
	Outcome   Outcome
	Inserted  int
	Err       error
}

// Orchestrator runs one inbound message from fetch to mark-read and notification.
type Orchestrator struct {
	cfg      config.Config
	mail     Mailbox
	files    FileIngester
	registry Registry
	notifier Notifier
	archiver Archiver
}

func NewOrchestrator(cfg config.Config, mail Mailbox, files FileIngester, reg Registry, notifier Notifier) *Orchestrator {
	return &Orchestrator{cfg: cfg, mail: mail, files: files, registry: reg, notifier: notifier}
}

// WithArchiver stores every attempted attachment before ingest. Archive failures are logged only.
func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archiver = a
	return o
}

// Process handles one message. Panics and errors are contained here: the message is
// alerted and left unread so a later poll retries it.
func (o *Orchestrator) Process(ctx context.Context, src config.SourceConfig, id string) (res Result) {
	log := logger.FromContext(ctx).With().Str("label", src.Label).Str("message_id", id).Logger()
	ctx = WithRunSequence(logger.WithContext(ctx, log))
	n := noticeContext{Label: src.Label, ClientID: src.ClientID, Bank: src.DefaultBank, MessageID: id}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msgf("panic while processing message: %v", r)
			res = o.fail(ctx, log, n, fmt.Errorf("panic: %v", r))
		}
	}()

	msg, err := o.mail.Get(ctx, id)
	if err != nil {
		return o.fail(ctx, log, n, err)
	}
	n.From, n.Subject = msg.From, msg.Subject

	settings := o.cfg.Resolve(src, ParseMeta(msg.Body))
	n.ClientID, n.Bank = settings.ClientID, settings.BankName
	for _, a := range msg.Attachments {
		n.Attachments = append(n.Attachments, a.Name)
	}

	if len(msg.Attachments) == 0 {
		log.Warn().Str("subject", msg.Subject).Msg("skip: no attachments")
		return o.skip(ctx, log, n)
	}

	var pending []mailbox.Attachment
	for _, att := range msg.Attachments {
		exists, err := o.registry.Exists(ctx, o.entry(src, settings, msg, att, 0))
		if err != nil {
			return o.fail(ctx, log, n, err)
		}
		if exists {
			log.Info().Str("attachment", att.Name).Msg("attachment already ingested")
			continue
		}
		pending = append(pending, att)
	}
	if len(pending) == 0 {
		log.Info().Msg("skip: every attachment already ingested")
		return o.skip(ctx, log, n)
	}

	total := 0
	for _, att := range pending {
		o.archive(ctx, log, settings, att)
		fr, err := o.files.IngestFile(ctx, Job{FileName: att.Name, Data: att.Data, Settings: settings})
		if err != nil {
			// batches committed before err stay in the ledger; the file is not registered
			// so the next poll retries it whole
			return o.fail(ctx, log, n, err)
		}
		total += fr.Inserted
		if fr.Inserted > 0 {
			if _, err := o.registry.Record(ctx, o.entry(src, settings, msg, att, fr.Inserted)); err != nil {
				return o.fail(ctx, log, n, err)
			}
		}
	}
	if total == 0 {
		return o.fail(ctx, log, n, ErrZeroRows)
	}

	// Marked before the receipt so a send failure can never cause a second ingest.
	if err := o.mail.MarkRead(ctx, id); err != nil {
		return o.fail(ctx, log, n, err)
	}
	log.Info().Int("inserted", total).Msg("message processed")
	logger.Audit(fmt.Sprintf("ingested %d rows from message %s (%s)", total, id, src.Label))

	o.sendReceipt(ctx, log, msg, n, total)
	return Result{MessageID: id, Outcome: OutcomeProcessed, Inserted: total}
}

func (o *Orchestrator) entry(src config.SourceConfig, s config.Settings, msg *mailbox.Message, att mailbox.Attachment, rows int) registry.Entry {
	return registry.Entry{
		ClientID:         s.ClientID,
		BankName:         s.BankName,
		LabelName:        src.Label,
		MessageID:        msg.ID,
		EmailFrom:        msg.From,
		EmailSubject:     msg.Subject,
		EmailDateRaw:     msg.Date,
		AttachmentName:   att.Name,
		AttachmentSHA256: att.SHA256,
		SchemaName:       o.cfg.Ingest.Schema,
		TableName:        o.cfg.Ingest.Table,
		RowsInserted:     rows,
	}
}

func (o *Orchestrator) archive(ctx context.Context, log zerolog.Logger, s config.Settings, att mailbox.Attachment) {
	if o.archiver == nil {
		return
	}
	url, err := o.archiver.Store(ctx, archive.Object{ClientID: s.ClientID, Name: att.Name, SHA256: att.SHA256, Data: att.Data})
	if err != nil {
		log.Warn().Err(err).Str("attachment", att.Name).Msg("archive failed")
		return
	}
	log.Debug().Str("attachment", att.Name).Str("url", url).Msg("attachment archived")
}

func (o *Orchestrator) skip(ctx context.Context, log zerolog.Logger, n noticeContext) Result {
	if err := o.mail.MarkRead(ctx, n.MessageID); err != nil {
		return o.fail(ctx, log, n, err)
	}
	return Result{MessageID: n.MessageID, Outcome: OutcomeSkipped}
}

func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, n noticeContext, err error) Result {
	log.Error().Err(err).Str("subject", n.Subject).Msg("message failed")
	o.alert(ctx, log, alertSubject(n.Label), alertBody(n, err))
	return Result{MessageID: n.MessageID, Outcome: OutcomeFailed, Err: err}
}

// alert is best effort: delivery errors are logged and otherwise ignored.
func (o *Orchestrator) alert(ctx context.Context, log zerolog.Logger, subject, body string) {
	if !o.cfg.Notify.SendAlerts || o.cfg.Notify.AlertTo == "" || o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, o.cfg.Notify.AlertTo, subject, body); err != nil {
		log.Warn().Err(err).Msg("alert send failed")
	}
}

func (o *Orchestrator) sendReceipt(ctx context.Context, log zerolog.Logger, msg *mailbox.Message, n noticeContext, inserted int) {
	if !o.cfg.Notify.SendReceipt || o.notifier == nil {
		return
	}
	to := mailbox.Address(msg.From)
	if to == "" {
		log.Warn().Str("from", msg.From).Msg("no receipt address")
		return
	}
	err := o.notifier.Notify(ctx, to, receiptSubject(o.cfg.Notify.ReceiptSubjectPrefix, msg.Subject), receiptBody(n, inserted))
	if err != nil {
		log.Warn().Err(err).Str("to", to).Msg("receipt send failed")
		o.alert(ctx, log, receiptFailedSubject(n.Label), alertBody(n, fmt.Errorf("receipt send failed: %w", err)))
	}
}
