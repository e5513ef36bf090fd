package domain

import "time"

// RawTicket is the TMS's own shape for a ticket, decoded tolerantly by
// the TMS client before the snapshot builder normalises it (§4.8).
type RawTicket struct {
	ID           int64
	Number       string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CustomerName string
	OwnerName    string
	CustomFields map[string]any
}

// RawArticle is a single TMS communication entry before normalisation.
type RawArticle struct {
	ID          int64
	CreatedAt   time.Time
	Internal    bool
	Sender      string
	Subject     string
	BodyHTML    string
	BodyText    string
	Attachments []AttachmentMeta
}
