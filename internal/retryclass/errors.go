// Package retryclass implements the closed error-code taxonomy and the
// Transient/Permanent classification described in spec.md §4.6.
package retryclass

import "fmt"

// Code is the closed enum of stable error codes driving operator-facing
// hints (§4.6).
type Code string

const (
	CodeTmsAuth               Code = "TmsAuth"
	CodeTmsNotFound           Code = "TmsNotFound"
	CodeTmsServer             Code = "TmsServer"
	CodeTmsTimeout            Code = "TmsTimeout"
	CodeSnapshot              Code = "Snapshot"
	CodeRender                Code = "Render"
	CodeArticleLimitExceeded  Code = "ArticleLimitExceeded"
	CodeSigningMaterial       Code = "SigningMaterial"
	CodeSigningFailed         Code = "SigningFailed"
	CodeTsaTimeout            Code = "TsaTimeout"
	CodeTsaBadResponse        Code = "TsaBadResponse"
	CodeTsaMisconfigured      Code = "TsaMisconfigured"
	CodePathPolicy            Code = "PathPolicy"
	CodeStorage               Code = "Storage"
	CodeCancelled             Code = "Cancelled"
	CodeUnknown               Code = "Unknown"
)

// Classification distinguishes retryable from non-retryable failures.
type Classification int

const (
	Transient Classification = iota
	Permanent
)

func (c Classification) String() string {
	if c == Transient {
		return "Transient"
	}
	return "Permanent"
}

// Error is the sum-type result the retry classifier produces: every
// raised failure the orchestrator catches carries one of these.
type Error struct {
	Classification Classification
	Code           Code
	Message        string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Classification, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Classification, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the error is a retryable Error.
func (e *Error) IsTransient() bool { return e.Classification == Transient }

// Transient constructs a retryable classified error.
func NewTransient(code Code, message string, err error) *Error {
	return &Error{Classification: Transient, Code: code, Message: message, Err: err}
}

// Permanent constructs a non-retryable classified error.
func NewPermanent(code Code, message string, err error) *Error {
	return &Error{Classification: Permanent, Code: code, Message: message, Err: err}
}

// hintByCode drives the operator-facing action hint attached to error
// notes posted back to the ticket (SPEC_FULL §"SUPPLEMENTED FEATURES" 5).
var hintByCode = map[Code]string{
	CodeTmsAuth:              "check the configured TMS token and its permissions",
	CodeTmsNotFound:          "verify the ticket still exists in the TMS",
	CodeTmsServer:            "the TMS is returning server errors; retry automatically, escalate if it persists",
	CodeTmsTimeout:           "the TMS did not respond in time; retry automatically",
	CodeSnapshot:             "the ticket payload is missing required fields",
	CodeRender:               "the PDF renderer failed; check the template and input snapshot",
	CodeArticleLimitExceeded: "the ticket has more articles than the configured limit allows",
	CodeSigningMaterial:      "check the PKCS#12 bundle path and password",
	CodeSigningFailed:        "the PAdES signing step failed; check certificate validity",
	CodeTsaTimeout:           "the timestamp authority did not respond in time; retry automatically",
	CodeTsaBadResponse:       "the timestamp authority returned an invalid or unexpected response",
	CodeTsaMisconfigured:     "check TSA URL and basic-auth credentials (both or neither)",
	CodePathPolicy:           "the archive_path or archive_user value violates path policy",
	CodeStorage:              "a filesystem error occurred while writing the archive",
	CodeCancelled:            "the job was cancelled before it finished; no operator action is implied",
	CodeUnknown:              "an unclassified error occurred",
}

// Hint returns the operator-facing action hint for a code.
func Hint(code Code) string {
	if h, ok := hintByCode[code]; ok {
		return h
	}
	return hintByCode[CodeUnknown]
}
