package domain

// SigningState records whether a PAdES signature (and TSA timestamp) was
// applied to the archived PDF, for inclusion in the audit sidecar (§3).
type SigningState struct {
	Enabled         bool
	TSAUsed         bool
	CertFingerprint string
}

// AuditRecord is the JSON sidecar record written next to every archived
// PDF (§3, §4.3).
type AuditRecord struct {
	TicketID      int64          `json:"ticket_id"`
	TicketNumber  string         `json:"ticket_number"`
	Title         string         `json:"title"`
	CreatedAt     string         `json:"created_at"`
	StoragePath   string         `json:"storage_path"`
	SHA256        string         `json:"sha256"`
	Signing       SigningJSON    `json:"signing"`
	Service       ServiceJSON    `json:"service"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// SigningJSON is the JSON shape of SigningState.
type SigningJSON struct {
	Enabled         bool   `json:"enabled"`
	TSAUsed         bool   `json:"tsa_used"`
	CertFingerprint string `json:"cert_fingerprint,omitempty"`
}

// ServiceJSON identifies the producing service build.
type ServiceJSON struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	RuntimeVersion string `json:"runtime_version"`
}
