package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/storage"
)

// persistAttachments writes attachment content, when opted into, under
// an "attachments" directory alongside the archived PDF, grounded on
// the original implementation's store_ticket_files attachment loop.
// ListArticles only returns attachment metadata, so content is fetched
// on demand via the TMS client's attachment-download endpoint before
// being written.
func (o *Orchestrator) persistAttachments(ctx context.Context, snap domain.TicketSnapshot, pdfPath string) error {
	if !o.Archive.PersistAttachmentContent {
		return nil
	}
	dir := filepath.Join(filepath.Dir(pdfPath), "attachments")
	for _, article := range snap.Articles {
		for _, att := range article.Attachments {
			content := att.Content
			if len(content) == 0 {
				fetched, err := o.TMS.GetAttachmentContent(ctx, snap.ID, article.ID, att.ID)
				if err != nil {
					return err
				}
				content = fetched
			}
			if len(content) == 0 {
				continue
			}
			if o.Archive.MaxAttachmentBytes > 0 && int64(len(content)) > o.Archive.MaxAttachmentBytes {
				continue
			}
			name := att.FileName
			if name == "" {
				name = att.ID
			}
			target := filepath.Join(dir, fmt.Sprintf("%d-%s", article.ID, name))
			if err := storage.WriteAtomic(o.Storage.Root, target, content); err != nil {
				return err
			}
		}
	}
	return nil
}
