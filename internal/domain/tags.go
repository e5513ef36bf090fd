package domain

// TagNames configures the four tag values that drive the ticket-side
// state machine. Names are configurable (§4.5); these are the defaults.
type TagNames struct {
	Trigger    string
	Processing string
	Done       string
	Error      string
}

// DefaultTagNames returns the conventional tag vocabulary.
func DefaultTagNames() TagNames {
	return TagNames{
		Trigger:    "pdf:sign",
		Processing: "pdf:processing",
		Done:       "pdf:signed",
		Error:      "pdf:error",
	}
}
