// Package audit builds the JSON metadata sidecar that accompanies every
// archived PDF, per spec.md §4.3.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/spec-kit/ticket-archiver/internal/storage"
)

// ServiceInfo identifies the running build, embedded in every sidecar.
type ServiceInfo struct {
	Name           string
	Version        string
	RuntimeVersion string
}

// Build assembles an AuditRecord for a freshly written PDF. sha256Hex must
// be computed over the exact bytes written to storagePath.
func Build(snapshot domain.TicketSnapshot, storagePath string, sha256Hex string, signing domain.SigningState, service ServiceInfo, warnings []string) domain.AuditRecord {
	return domain.AuditRecord{
		TicketID:     snapshot.ID,
		TicketNumber: snapshot.Number,
		Title:        snapshot.Title,
		CreatedAt:    snapshot.CreatedAt.UTC().Format(time.RFC3339),
		StoragePath:  storagePath,
		SHA256:       sha256Hex,
		Signing: domain.SigningJSON{
			Enabled:         signing.Enabled,
			TSAUsed:         signing.TSAUsed,
			CertFingerprint: signing.CertFingerprint,
		},
		Service: domain.ServiceJSON{
			Name:           service.Name,
			Version:        service.Version,
			RuntimeVersion: service.RuntimeVersion,
		},
		Warnings: warnings,
	}
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data, matching
// the digest recorded in AuditRecord.SHA256 and, when signing occurred,
// the digest used for CertFingerprint over the DER-encoded certificate.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SidecarPath derives the sidecar path for a PDF path: "<pdf-name>.json"
// next to the PDF.
func SidecarPath(pdfPath string) string {
	return pdfPath + ".json"
}

// WriteSidecar serialises record as stable-key-order UTF-8 JSON and writes
// it next to the PDF using the atomic writer, per §4.3.
func WriteSidecar(root, pdfPath string, record domain.AuditRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	return storage.WriteAtomic(root, SidecarPath(pdfPath), data)
}
