package tagstate

import (
	"testing"

	"github.com/spec-kit/ticket-archiver/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestApplyProcessing(t *testing.T) {
	names := domain.DefaultTagNames()
	tr := ApplyProcessing(names)
	assert.Equal(t, []string{names.Processing}, tr.Add)
	assert.ElementsMatch(t, []string{names.Done, names.Error, names.Trigger}, tr.Remove)
}

func TestApplyDone(t *testing.T) {
	names := domain.DefaultTagNames()
	tr := ApplyDone(names)
	assert.Equal(t, []string{names.Done}, tr.Add)
	assert.ElementsMatch(t, []string{names.Processing, names.Error, names.Trigger}, tr.Remove)
}

func TestApplyError_KeepsTriggerWhenTransient(t *testing.T) {
	names := domain.DefaultTagNames()
	tr := ApplyError(names, true)
	assert.ElementsMatch(t, []string{names.Error, names.Trigger}, tr.Add)
	assert.ElementsMatch(t, []string{names.Processing, names.Done}, tr.Remove)
}

func TestApplyError_DropsTriggerWhenPermanent(t *testing.T) {
	names := domain.DefaultTagNames()
	tr := ApplyError(names, false)
	assert.Equal(t, []string{names.Error}, tr.Add)
	assert.ElementsMatch(t, []string{names.Processing, names.Done, names.Trigger}, tr.Remove)
}

func TestProcessingThenDone_Converges(t *testing.T) {
	names := domain.DefaultTagNames()
	tags := map[string]struct{}{names.Trigger: {}}

	proc := ApplyProcessing(names)
	for _, a := range proc.Add {
		tags[a] = struct{}{}
	}
	for _, r := range proc.Remove {
		delete(tags, r)
	}
	_, hasProcessing := tags[names.Processing]
	assert.True(t, hasProcessing)
	_, hasTrigger := tags[names.Trigger]
	assert.False(t, hasTrigger)

	done := ApplyDone(names)
	for _, a := range done.Add {
		tags[a] = struct{}{}
	}
	for _, r := range done.Remove {
		delete(tags, r)
	}
	_, hasDone := tags[names.Done]
	assert.True(t, hasDone)
	_, stillProcessing := tags[names.Processing]
	assert.False(t, stillProcessing)
}

func TestShouldProcess(t *testing.T) {
	names := domain.DefaultTagNames()

	t.Run("done tag blocks reprocessing", func(t *testing.T) {
		tags := map[string]struct{}{names.Done: {}, names.Trigger: {}}
		assert.False(t, ShouldProcess(tags, names, true))
	})

	t.Run("trigger required and present", func(t *testing.T) {
		tags := map[string]struct{}{names.Trigger: {}}
		assert.True(t, ShouldProcess(tags, names, true))
	})

	t.Run("trigger required and absent", func(t *testing.T) {
		tags := map[string]struct{}{}
		assert.False(t, ShouldProcess(tags, names, true))
	})

	t.Run("trigger not required", func(t *testing.T) {
		tags := map[string]struct{}{}
		assert.True(t, ShouldProcess(tags, names, false))
	})
}
