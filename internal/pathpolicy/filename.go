package pathpolicy

import (
	"strings"
	"time"
)

// DefaultFilenamePattern is the default filename template (§6).
const DefaultFilenamePattern = "Ticket-{ticket_number}_{timestamp_utc}.pdf"

// BuildFilename resolves {ticket_number} and {timestamp_utc} tokens in
// pattern, sanitises the result as a single path segment, and enforces
// the filename-specific limits from §4.1.
func BuildFilename(pattern, ticketNumber string, timestampUTC time.Time) (string, error) {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	resolved := strings.ReplaceAll(pattern, "{ticket_number}", ticketNumber)
	resolved = strings.ReplaceAll(resolved, "{timestamp_utc}", timestampUTC.UTC().Format("2006-01-02"))

	if strings.ContainsRune(resolved, 0) {
		return "", pathErr("filename contains a null byte")
	}
	if strings.ContainsAny(resolved, "/\\") {
		return "", pathErr("filename must be a single path segment")
	}

	ext := ""
	base := resolved
	if idx := strings.LastIndex(resolved, "."); idx > 0 {
		ext = resolved[idx:]
		base = resolved[:idx]
	}
	sanitisedBase := SanitiseSegment(base)
	filename := sanitisedBase + ext

	if len(filename) > MaxFilenameLen {
		return "", pathErr("filename too long (max %d bytes)", MaxFilenameLen)
	}
	if filename == "" {
		return "", pathErr("filename resolved to an empty string")
	}
	return filename, nil
}
