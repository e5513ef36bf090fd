// Package pathpolicy validates and sanitises untrusted archive-path
// segments and enforces root containment, per spec.md §4.1.
package pathpolicy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

const (
	MaxSegmentLength = 64
	MaxDepth         = 10
	MaxFilenameLen   = 255
)

var allowedSegmentChar = regexp.MustCompile(`^[A-Za-z0-9._-]$`)
var whitespaceRun = regexp.MustCompile(`\s+`)
var underscoreRun = regexp.MustCompile(`_+`)

func pathErr(format string, args ...any) error {
	return retryclass.NewPermanent(retryclass.CodePathPolicy, fmt.Sprintf(format, args...), nil)
}

// ValidateSegments rejects raw segments that fail the structural checks
// of §4.1 before any sanitisation happens, so that a traversal attempt
// that would only become ".." after normalisation is rejected outright
// rather than laundered by sanitisation.
func ValidateSegments(segments []string, maxDepth, maxLength int) error {
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}
	if maxLength <= 0 {
		maxLength = MaxSegmentLength
	}
	if len(segments) > maxDepth {
		return pathErr("too many path segments (max depth %d)", maxDepth)
	}
	for _, seg := range segments {
		if err := validateSegment(seg, maxLength); err != nil {
			return err
		}
	}
	return nil
}

func validateSegment(seg string, maxLength int) error {
	trimmed := strings.TrimSpace(seg)
	if trimmed == "" {
		return pathErr("empty path segment is not allowed")
	}
	if trimmed == "." || trimmed == ".." {
		return pathErr("dot segments are not allowed")
	}
	if s := SanitiseSegment(trimmed); s == "." || s == ".." {
		return pathErr("segments that normalise to dot segments are not allowed")
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return pathErr("path separators are not allowed in segments")
	}
	if strings.ContainsRune(trimmed, 0) {
		return pathErr("null bytes are not allowed")
	}
	if len(trimmed) > maxLength {
		return pathErr("path segment too long (max %d bytes)", maxLength)
	}
	return nil
}

// SanitiseSegment deterministically and idempotently reduces a segment to
// the filesystem-safe alphabet [A-Za-z0-9._-], per §4.1. Sanitisation
// runs only after validation has already rejected traversal attempts.
func SanitiseSegment(seg string) string {
	normalised := norm.NFKD.String(seg)

	var b strings.Builder
	b.Grow(len(normalised))
	for _, r := range normalised {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	out = whitespaceRun.ReplaceAllString(out, "_")

	var b2 strings.Builder
	b2.Grow(len(out))
	for _, r := range out {
		if allowedSegmentChar.MatchString(string(r)) {
			b2.WriteRune(r)
		} else {
			b2.WriteRune('_')
		}
	}
	result := underscoreRun.ReplaceAllString(b2.String(), "_")
	if seg != "" && result == "" {
		result = "_"
	}
	return result
}

// CheckPrefixAllowList enforces §4.1's allow-list rule: a non-configured
// (nil) list means no restriction; an explicitly empty, non-nil list
// means no path is allowed; otherwise the sanitised first segment must
// equal one of the allowed prefixes.
func CheckPrefixAllowList(sanitisedSegments []string, allowed []string) error {
	if allowed == nil {
		return nil
	}
	if len(allowed) == 0 {
		return pathErr("archive path prefix allow-list is empty; no path is permitted")
	}
	if len(sanitisedSegments) == 0 {
		return pathErr("archive path has no segments to check against the allow-list")
	}
	first := sanitisedSegments[0]
	for _, candidate := range allowed {
		if SanitiseSegment(candidate) == first {
			return nil
		}
	}
	return pathErr("archive path prefix %q is not in the configured allow-list", first)
}

// ResolvedPath assembles root + userSegment + pathSegments + filename and
// verifies the result is a descendant of root (§4.1 root containment).
// The path is assembled but never written here.
func ResolvedPath(root, userSegment string, pathSegments []string, filename string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", pathErr("cannot resolve storage root: %v", err)
	}
	absRoot = filepath.Clean(absRoot)

	parts := append([]string{absRoot, userSegment}, pathSegments...)
	parts = append(parts, filename)
	target := filepath.Join(parts...)
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil {
		return "", pathErr("cannot resolve target relative to root: %v", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", pathErr("resolved path %q escapes storage root", target)
	}
	return target, nil
}

// BuildSegments validates then sanitises a full list of raw segments,
// applying the optional prefix allow-list. It returns the final sanitised
// segments ready for path assembly.
func BuildSegments(raw []string, allowedPrefixes []string, maxDepth, maxLength int) ([]string, error) {
	if err := ValidateSegments(raw, maxDepth, maxLength); err != nil {
		return nil, err
	}
	sanitised := make([]string, len(raw))
	for i, seg := range raw {
		sanitised[i] = SanitiseSegment(seg)
	}
	if err := CheckPrefixAllowList(sanitised, allowedPrefixes); err != nil {
		return nil, err
	}
	return sanitised, nil
}

// ParseArchivePathField parses the raw archive_path custom-field value,
// which is either a ">"-separated string or an ordered list of strings
// (§4.1).
func ParseArchivePathField(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, pathErr("archive_path field is missing")
	case string:
		parts := strings.Split(v, ">")
		segs := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed == "" {
				continue
			}
			segs = append(segs, trimmed)
		}
		if len(segs) == 0 {
			return nil, pathErr("archive_path string had no usable segments")
		}
		return segs, nil
	case []string:
		return v, nil
	case []any:
		segs := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, pathErr("archive_path segments must all be strings")
			}
			segs = append(segs, s)
		}
		return segs, nil
	default:
		return nil, pathErr("archive_path has an unsupported type %T", v)
	}
}
