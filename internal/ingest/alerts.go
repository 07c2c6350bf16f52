package ingest

import (
	"fmt"
	"strings"
)

// noticeContext is what an alert or receipt says about the message.
type noticeContext struct {
	Label       string
	ClientID    int64
	Bank        string
	MessageID   string
	From        string
	Subject     string
	Attachments []string
}

func alertSubject(label string) string {
	return fmt.Sprintf("[ALERT] Ingest failed (%s)", label)
}

func receiptFailedSubject(label string) string {
	return fmt.Sprintf("[ALERT] Receipt send failed (%s)", label)
}

func receiptSubject(prefix, subject string) string {
	return strings.TrimSpace(fmt.Sprintf("%s Processed: %s", prefix, subject))
}

func alertBody(n noticeContext, err error) string {
	var b strings.Builder
	b.WriteString("Mail2Ledger FAILED\n\n")
	fmt.Fprintf(&b, "label=%s\n", n.Label)
	fmt.Fprintf(&b, "client_id=%d\n", n.ClientID)
	fmt.Fprintf(&b, "bank=%s\n", n.Bank)
	fmt.Fprintf(&b, "message_id=%s\n", n.MessageID)
	fmt.Fprintf(&b, "from=%s\n", n.From)
	fmt.Fprintf(&b, "subject=%s\n", n.Subject)
	fmt.Fprintf(&b, "error=%v\n", err)
	fmt.Fprintf(&b, "attachments=%s\n", strings.Join(n.Attachments, ", "))
	return b.String()
}

func receiptBody(n noticeContext, inserted int) string {
	var b strings.Builder
	b.WriteString("Your file(s) have been processed successfully.\n\n")
	fmt.Fprintf(&b, "label=%s\n", n.Label)
	fmt.Fprintf(&b, "client_id=%d\n", n.ClientID)
	fmt.Fprintf(&b, "bank=%s\n", n.Bank)
	fmt.Fprintf(&b, "message_id=%s\n", n.MessageID)
	fmt.Fprintf(&b, "inserted_rows=%d\n", inserted)
	fmt.Fprintf(&b, "attachments=%s\n", strings.Join(n.Attachments, ", "))
	return b.String()
}
