package platform

import (
	"fmt"
	"strings"
)

// StoreUnavailableError means a platform's backing store could not be
// opened: missing file, missing permission, missing decryption key, or a
// missing local decryption utility. Not retried; Hint carries remediation.
type StoreUnavailableError struct {
	Platform ID
	Hint     string
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	msg := fmt.Sprintf("%s store unavailable", e.Platform)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// NotFoundError means resolution produced zero candidates. It is a user
// outcome, not an internal failure.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no chat or contact found for %q", e.Query)
}

// AmbiguousError means resolution produced multiple candidates. All of them
// are listed so the user can disambiguate; crosstalk never auto-picks.
type AmbiguousError struct {
	Query      string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	labels := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		labels = append(labels, c.Label())
	}
	return fmt.Sprintf("%q is ambiguous: %s", e.Query, strings.Join(labels, ", "))
}

// SendError is a transport-level send failure or timeout. Reported once,
// never retried: duplicate delivery is worse than a reported failure.
type SendError struct {
	Platform ID
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send via %s failed: %v", e.Platform, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// DecryptionError means the encrypted postbox key could not be located or
// applied. Fatal for that platform's operations; others continue.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("postbox decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// ExtractionError means the session material read from the local store is
// missing or structurally invalid (wrong length, missing fields).
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "session extraction failed: " + e.Reason
}
