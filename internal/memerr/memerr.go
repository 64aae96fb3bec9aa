// Package memerr defines the typed error taxonomy used across the engine.
//
// The original Python source swallowed errors in several places and grafted
// ad-hoc fields onto results at runtime. This package replaces both habits
// with one closed error type and an explicit Kind enum, matched with
// errors.As/errors.Is the way the rest of the module expects.
package memerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Never inspect err.Error() to branch on
// failure type — use Is/As against Kind instead.
type Kind int

const (
	// KindInternal marks an invariant violation: non-unit embedding,
	// index/table mismatch, or any other state the engine should never
	// reach. Callers must not silence it.
	KindInternal Kind = iota
	KindValidation
	KindStorageCorrupt
	KindStorageLocked
	KindStorageIO
	KindStorageSchema
	KindEmbeddingEncoder
	KindEmbeddingTokenizer
	KindEmbeddingUnavailable
	KindTimeout
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindStorageCorrupt:
		return "Storage.Corrupt"
	case KindStorageLocked:
		return "Storage.Locked"
	case KindStorageIO:
		return "Storage.IO"
	case KindStorageSchema:
		return "Storage.Schema"
	case KindEmbeddingEncoder:
		return "Embedding.Encoder"
	case KindEmbeddingTokenizer:
		return "Embedding.Tokenizer"
	case KindEmbeddingUnavailable:
		return "Embedding.Unavailable"
	case KindTimeout:
		return "Timeout"
	case KindNotFound:
		return "NotFound"
	default:
		return "Internal"
	}
}

// Error is the single error type returned by every package in this module.
// ElapsedMS is only meaningful for KindTimeout.
type Error struct {
	Kind      Kind
	Msg       string
	ElapsedMS int64
	Err       error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func Timeout(msg string, elapsedMS int64) *Error {
	return &Error{Kind: KindTimeout, Msg: msg, ElapsedMS: elapsedMS}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err is not
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
