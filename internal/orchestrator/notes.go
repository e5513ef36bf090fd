package orchestrator

import (
	"fmt"
	"html"
	"strings"

	"github.com/spec-kit/ticket-archiver/internal/redact"
)

// successNoteParams carries the fields success_note_html fills in,
// grounded on the original implementation's success note builder.
type successNoteParams struct {
	StoragePath  string
	SidecarPath  string
	SizeBytes    int64
	SHA256       string
	RequestID    string
	DeliveryID   string
	TimestampUTC string
}

// successNoteHTML renders the internal note posted to a ticket once its
// PDF has been archived successfully.
func successNoteHTML(p successNoteParams) string {
	var b strings.Builder
	b.WriteString("<p><strong>Ticket archived to PDF.</strong></p>")
	b.WriteString("<ul>")
	writeNoteItem(&b, "Storage path", p.StoragePath)
	writeNoteItem(&b, "Audit sidecar", p.SidecarPath)
	writeNoteItem(&b, "Size", fmt.Sprintf("%d bytes", p.SizeBytes))
	writeNoteItem(&b, "SHA-256", p.SHA256)
	if p.DeliveryID != "" {
		writeNoteItem(&b, "Delivery ID", p.DeliveryID)
	}
	writeNoteItem(&b, "Request ID", p.RequestID)
	writeNoteItem(&b, "Archived at (UTC)", p.TimestampUTC)
	b.WriteString("</ul>")
	return b.String()
}

// errorNoteParams carries the fields error_note_html fills in.
type errorNoteParams struct {
	Classification string
	Message        string
	Code           string
	Hint           string
	RequestID      string
	DeliveryID     string
	TimestampUTC   string
}

// errorNoteHTML renders the internal note posted to a ticket whenever
// archival fails with a classified error, transient or permanent.
// Unlike the original implementation, code and hint come directly from
// the closed retryclass.Code taxonomy rather than from a second pass of
// regex matching over the exception's free-text message.
func errorNoteHTML(p errorNoteParams) string {
	var b strings.Builder
	b.WriteString("<p><strong>Ticket archival failed.</strong></p>")
	b.WriteString("<ul>")
	writeNoteItem(&b, "Classification", p.Classification)
	writeNoteItem(&b, "Error", p.Message)
	writeNoteItem(&b, "Code", p.Code)
	writeNoteItem(&b, "Hint", p.Hint)
	if p.DeliveryID != "" {
		writeNoteItem(&b, "Delivery ID", p.DeliveryID)
	}
	writeNoteItem(&b, "Request ID", p.RequestID)
	writeNoteItem(&b, "Failed at (UTC)", p.TimestampUTC)
	b.WriteString("</ul>")
	return b.String()
}

func writeNoteItem(b *strings.Builder, label, value string) {
	b.WriteString("<li><strong>")
	b.WriteString(html.EscapeString(label))
	b.WriteString(":</strong> ")
	b.WriteString(html.EscapeString(value))
	b.WriteString("</li>")
}

// conciseMessage scrubs secrets and truncates an error message to a
// note-friendly length, matching the original's concise_exc_message.
const maxNoteMessageLen = 500

func conciseMessage(message string) string {
	message = redact.ScrubSecretsInText(strings.TrimSpace(message))
	if len(message) <= maxNoteMessageLen {
		return message
	}
	return message[:maxNoteMessageLen-1] + "…"
}
