// ABOUTME: Typed failures returned by every external service adapter
// ABOUTME: Source and Kind let flows choose the user-facing message per failure class

package fault

import (
	"errors"
	"fmt"
)

// Source names the collaborator that failed.
type Source string

const (
	SourceLLM       Source = "llm"
	SourceWeb       Source = "web"
	SourcePDF       Source = "pdf"
	SourceSpeech    Source = "speech"
	SourcePrice     Source = "price"
	SourceTransport Source = "transport"
	SourceFiles     Source = "files"
	SourceUnknown   Source = "unknown"
)

// Kind classifies what went wrong.
type Kind string

const (
	KindUpstream    Kind = "upstream"     // network error or non-2xx status
	KindRateLimited Kind = "rate_limited" // upstream asked us to slow down
	KindMalformed   Kind = "malformed"    // response could not be parsed
	KindEmpty       Kind = "empty"        // nothing usable was extracted
	KindUnsupported Kind = "unsupported"  // input of the wrong type
	KindInternal    Kind = "internal"     // local failure (filesystem, bug)
)

// Error is a classified adapter failure.
type Error struct {
	Source Source
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Source, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Source, e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a classified error.
func New(source Source, kind Kind, reason string, err error) *Error {
	return &Error{Source: source, Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// SourceOf returns the source of the first *Error in err's chain, or SourceUnknown.
func SourceOf(err error) Source {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Source
	}
	return SourceUnknown
}

// Is reports whether err carries the given source and kind.
func Is(err error, source Source, kind Kind) bool {
	return SourceOf(err) == source && KindOf(err) == kind
}
