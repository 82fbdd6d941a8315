// Package provider runs capability requests through ranked provider chains.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindTimeout               Kind = "Timeout"
	KindUnavailable           Kind = "Unavailable"
	KindInvalidResponse       Kind = "InvalidResponse"
	KindAllProvidersExhausted Kind = "AllProvidersExhausted"
)

// Capabilities served by chains.
const (
	CapabilityText    = "text-generation"
	CapabilitySpeech  = "speech-synthesis"
	CapabilityVisemes = "viseme-extraction"
)

// ErrAllProvidersExhausted matches any *ExhaustedError.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Error is a classified failure of one provider call.
type Error struct {
	Kind       Kind
	Capability string
	Provider   string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider %s: %s: %v", e.Capability, e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidResponse marks err as an unusable provider response.
func InvalidResponse(err error) error {
	return &Error{Kind: KindInvalidResponse, Err: err}
}

// Unavailable marks err as a provider outage.
func Unavailable(err error) error {
	return &Error{Kind: KindUnavailable, Err: err}
}

// Classify returns the kind of a provider error.
func Classify(err error) Kind {
	var perr *Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAllProvidersExhausted):
		return KindAllProvidersExhausted
	case errors.As(err, &perr) && perr.Kind != "":
		return perr.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindUnavailable
	}
}

// ExhaustedError reports that every provider of a chain failed.
type ExhaustedError struct {
	Capability string
	Attempts   []error
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s: [%s]", e.Capability, ErrAllProvidersExhausted, strings.Join(msgs, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}
