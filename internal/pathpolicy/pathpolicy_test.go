package pathpolicy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSegments_RejectsDotSegments(t *testing.T) {
	err := ValidateSegments([]string{"..", "etc", "passwd"}, MaxDepth, MaxSegmentLength)
	require.Error(t, err)
}

func TestValidateSegments_RejectsSeparators(t *testing.T) {
	require.Error(t, ValidateSegments([]string{"a/b"}, MaxDepth, MaxSegmentLength))
	require.Error(t, ValidateSegments([]string{"a\\b"}, MaxDepth, MaxSegmentLength))
}

func TestValidateSegments_LengthBoundary(t *testing.T) {
	ok := strings.Repeat("a", 64)
	tooLong := strings.Repeat("a", 65)
	require.NoError(t, ValidateSegments([]string{ok}, MaxDepth, MaxSegmentLength))
	require.Error(t, ValidateSegments([]string{tooLong}, MaxDepth, MaxSegmentLength))
}

func TestValidateSegments_DepthBoundary(t *testing.T) {
	ten := make([]string, 10)
	eleven := make([]string, 11)
	for i := range ten {
		ten[i] = "seg"
	}
	for i := range eleven {
		eleven[i] = "seg"
	}
	require.NoError(t, ValidateSegments(ten, MaxDepth, MaxSegmentLength))
	require.Error(t, ValidateSegments(eleven, MaxDepth, MaxSegmentLength))
}

func TestSanitiseSegment_Idempotent(t *testing.T) {
	inputs := []string{
		"ACME GmbH", "Ünïcödé Çaße", "日本語", "a//b\\c", "  spaced  ", "already_ok-1.2",
	}
	for _, in := range inputs {
		once := SanitiseSegment(in)
		twice := SanitiseSegment(once)
		assert.Equal(t, once, twice, "sanitise must be idempotent for %q", in)
	}
}

func TestSanitiseSegment_KnownMappings(t *testing.T) {
	assert.Equal(t, "ACME_GmbH", SanitiseSegment("ACME GmbH"))
	assert.Equal(t, "Unicode_Ca_e", SanitiseSegment("Ünïcödé Çaße"))
}

func TestSanitiseSegment_FullwidthTraversalNotLaundered(t *testing.T) {
	// The raw fullwidth dots are not literal "..", but they sanitise to
	// "..", so validation must reject them before sanitisation runs.
	fullwidthDotDot := "．．"
	require.NotEqual(t, "..", fullwidthDotDot)
	require.Error(t, ValidateSegments([]string{fullwidthDotDot}, MaxDepth, MaxSegmentLength))
}

func TestCheckPrefixAllowList(t *testing.T) {
	t.Run("nil means unrestricted", func(t *testing.T) {
		require.NoError(t, CheckPrefixAllowList([]string{"Customers"}, nil))
	})
	t.Run("empty non-nil means nothing allowed", func(t *testing.T) {
		require.Error(t, CheckPrefixAllowList([]string{"Customers"}, []string{}))
	})
	t.Run("matches sanitised prefix", func(t *testing.T) {
		require.NoError(t, CheckPrefixAllowList([]string{"Customers"}, []string{"Customers"}))
	})
	t.Run("rejects unmatched prefix", func(t *testing.T) {
		require.Error(t, CheckPrefixAllowList([]string{"Internal"}, []string{"Customers"}))
	})
}

func TestResolvedPath_RootContainment(t *testing.T) {
	root := t.TempDir()
	target, err := ResolvedPath(root, "john.doe", []string{"Customers", "ACME"}, "Ticket-1.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, root))
}

func TestResolvedPath_EscapeRejected(t *testing.T) {
	root := t.TempDir()
	_, err := ResolvedPath(root, "..", []string{}, "Ticket-1.pdf")
	require.Error(t, err)
}

func TestBuildFilename_Default(t *testing.T) {
	ts := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	name, err := BuildFilename(DefaultFilenamePattern, "123456", ts)
	require.NoError(t, err)
	assert.Equal(t, "Ticket-123456_2026-02-07.pdf", name)
}

func TestBuildFilename_RejectsSeparators(t *testing.T) {
	ts := time.Now()
	_, err := BuildFilename("a/b-{ticket_number}.pdf", "1", ts)
	require.Error(t, err)
}

func TestBuildSegments_EndToEnd(t *testing.T) {
	segs, err := BuildSegments([]string{"Customers", "ACME GmbH", "2026"}, nil, MaxDepth, MaxSegmentLength)
	require.NoError(t, err)
	assert.Equal(t, []string{"Customers", "ACME_GmbH", "2026"}, segs)
}

func TestParseArchivePathField(t *testing.T) {
	segs, err := ParseArchivePathField("Customers > ACME GmbH > 2026")
	require.NoError(t, err)
	assert.Equal(t, []string{"Customers", "ACME GmbH", "2026"}, segs)

	segs, err = ParseArchivePathField([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, segs)

	_, err = ParseArchivePathField(nil)
	require.Error(t, err)
}
