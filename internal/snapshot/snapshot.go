// Package snapshot normalises a raw ticket, its tags, and its articles
// into the stable, render-ready projection consumed by the renderer and
// the rest of the pipeline, per spec.md §4.8.
package snapshot

import (
	"sort"
	"time"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// ArticleLimitMode selects what happens when a ticket has more articles
// than the configured limit.
type ArticleLimitMode string

const (
	ArticleLimitFail            ArticleLimitMode = "fail"
	ArticleLimitCapAndContinue  ArticleLimitMode = "cap_and_continue"
)

// HTMLSanitizer is the opaque HTML-sanitisation collaborator (out of
// scope per the specification); callers inject a concrete filter.
type HTMLSanitizer func(html string) string

// Options configures a single Build call.
type Options struct {
	ArticleLimit int
	LimitMode    ArticleLimitMode
	Sanitize     HTMLSanitizer
}

// Build normalises ticket, tags, and articles into a TicketSnapshot.
func Build(ticket domain.RawTicket, tags []string, articles []domain.RawArticle, opts Options) (domain.TicketSnapshot, error) {
	sanitize := opts.Sanitize
	if sanitize == nil {
		sanitize = func(html string) string { return html }
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
	}

	working := articles
	truncated := false
	dropped := 0

	if opts.ArticleLimit > 0 && len(working) > opts.ArticleLimit {
		switch opts.LimitMode {
		case ArticleLimitCapAndContinue:
			dropped = len(working) - opts.ArticleLimit
			working = working[:opts.ArticleLimit]
			truncated = true
		default:
			return domain.TicketSnapshot{}, retryclass.NewPermanent(
				retryclass.CodeArticleLimitExceeded,
				"ticket has more articles than the configured limit allows",
				nil,
			)
		}
	}

	normalised := make([]domain.Article, 0, len(working))
	for _, a := range working {
		normalised = append(normalised, normaliseArticle(a, sanitize))
	}
	sortArticles(normalised)

	return domain.TicketSnapshot{
		ID:                ticket.ID,
		Number:            ticket.Number,
		Title:             ticket.Title,
		CreatedAt:         ticket.CreatedAt.UTC(),
		UpdatedAt:         ticket.UpdatedAt.UTC(),
		Customer:          ticket.CustomerName,
		Owner:             ticket.OwnerName,
		Tags:              tagSet,
		CustomFields:      ticket.CustomFields,
		Articles:          normalised,
		ArticlesTruncated: truncated,
		ArticlesDropped:   dropped,
	}, nil
}

// Warnings re-derives the warning list for a built snapshot, kept as a
// pure function of the same inputs Build already computed so the
// orchestrator can attach them to the audit record without Build itself
// needing to know about AuditRecord's shape.
func Warnings(s domain.TicketSnapshot) []string {
	if !s.ArticlesTruncated {
		return nil
	}
	return []string{"article list truncated to configured limit"}
}

func normaliseArticle(a domain.RawArticle, sanitize HTMLSanitizer) domain.Article {
	bodyHTML := ""
	bodyText := a.BodyText
	if a.BodyHTML != "" {
		bodyHTML = sanitize(a.BodyHTML)
	}
	// If sanitisation reduced the HTML body to nothing, the renderer falls
	// back to body_text (§4.8); never resurrect raw unsanitised HTML here.
	return domain.Article{
		ID:          a.ID,
		CreatedAt:   a.CreatedAt.UTC(),
		Internal:    a.Internal,
		Sender:      a.Sender,
		Subject:     a.Subject,
		BodyHTML:    bodyHTML,
		BodyText:    bodyText,
		Attachments: a.Attachments,
	}
}

var sentinelMaxTime = time.Unix(1<<62, 0).UTC()

func sortArticles(articles []domain.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		ti, tj := articles[i].CreatedAt, articles[j].CreatedAt
		if ti.IsZero() {
			ti = sentinelMaxTime
		}
		if tj.IsZero() {
			tj = sentinelMaxTime
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return articles[i].ID < articles[j].ID
	})
}
