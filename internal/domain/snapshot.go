package domain

import "time"

// AttachmentMeta describes an article attachment by metadata only, unless
// content persistence has been explicitly opted into (§3, SPEC_FULL §4).
type AttachmentMeta struct {
	ID       string
	FileName string
	MimeType string
	Size     int64
	Content  []byte
}

// Article is a single communication entry on a ticket.
type Article struct {
	ID          int64
	CreatedAt   time.Time
	Internal    bool
	Sender      string
	Subject     string
	BodyHTML    string
	BodyText    string
	Attachments []AttachmentMeta
}

// TicketSnapshot is the normalised, render-ready projection of a ticket
// plus its tags and articles (§3).
type TicketSnapshot struct {
	ID           int64
	Number       string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Customer     string
	Owner        string
	Tags         map[string]struct{}
	CustomFields map[string]any
	Articles     []Article

	// ArticlesTruncated records whether the cap_and_continue policy (§4.8)
	// dropped trailing articles to respect the configured limit.
	ArticlesTruncated bool
	ArticlesDropped   int
}

// HasTag reports whether the given tag name is present on the snapshot.
func (s *TicketSnapshot) HasTag(name string) bool {
	if s == nil || s.Tags == nil {
		return false
	}
	_, ok := s.Tags[name]
	return ok
}
