// Package tagstate encodes the legal tag transitions on a ticket and the
// eligibility gate described in spec.md §4.5.
package tagstate

import "github.com/spec-kit/ticket-archiver/internal/domain"

// Transition is the add/remove pair an Action computes for a given tag
// vocabulary.
type Transition struct {
	Add    []string
	Remove []string
}

// ApplyProcessing computes the transition for entering PROCESSING.
func ApplyProcessing(names domain.TagNames) Transition {
	return Transition{
		Add:    []string{names.Processing},
		Remove: []string{names.Done, names.Error, names.Trigger},
	}
}

// ApplyDone computes the transition for entering DONE.
func ApplyDone(names domain.TagNames) Transition {
	return Transition{
		Add:    []string{names.Done},
		Remove: []string{names.Processing, names.Error, names.Trigger},
	}
}

// ApplyError computes the transition for entering ERROR. keepTrigger is
// true for transient failures (§8 invariant 6: keep_trigger ⇔ Transient).
func ApplyError(names domain.TagNames, keepTrigger bool) Transition {
	t := Transition{
		Add:    []string{names.Error},
		Remove: []string{names.Processing, names.Done},
	}
	if keepTrigger {
		t.Add = append(t.Add, names.Trigger)
	} else {
		t.Remove = append(t.Remove, names.Trigger)
	}
	return t
}

// ShouldProcess implements the eligibility gate (§4.5): false when DONE is
// present; false when a trigger tag is required but absent; true
// otherwise.
func ShouldProcess(currentTags map[string]struct{}, names domain.TagNames, requireTriggerTag bool) bool {
	if _, done := currentTags[names.Done]; done {
		return false
	}
	if requireTriggerTag {
		_, has := currentTags[names.Trigger]
		return has
	}
	return true
}
