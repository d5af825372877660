package relay

import (
	"errors"
	"fmt"

	"votingrelay.mini/vrm/internal/abci"
)

// Kind classifies a relay outcome for callers.
type Kind string

const (
	KindUnauthorized      Kind = "Unauthorized"
	KindNotRegistered     Kind = "NotRegistered"
	KindAlreadyVoted      Kind = "AlreadyVoted"
	KindUnknownCandidate  Kind = "UnknownCandidate"
	KindSubmissionTimeout Kind = "SubmissionTimeout"
	KindTransportFailure  Kind = "TransportFailure"
	KindInvalidRequest    Kind = "InvalidRequest"
	KindRejected          Kind = "Rejected"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrNotRegistered     = &Error{Kind: KindNotRegistered}
	ErrAlreadyVoted      = &Error{Kind: KindAlreadyVoted}
	ErrUnknownCandidate  = &Error{Kind: KindUnknownCandidate}
	ErrSubmissionTimeout = &Error{Kind: KindSubmissionTimeout}
	ErrTransportFailure  = &Error{Kind: KindTransportFailure}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrRejected          = &Error{Kind: KindRejected}
)

// ErrOwnerMismatch means the relay credential does not administer the ledger.
var ErrOwnerMismatch = errors.New("relay credential is not the ledger owner")

// Error is the outcome of a failed relay operation. Reason carries the
// ledger's own explanation when the ledger produced one.
type Error struct {
	Kind   Kind
	Reason string
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += fmt.Sprintf(" (tx %s)", e.TxHash)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether submitting the same request again may succeed.
// A timed-out request is retryable because the ledger rejects a duplicate
// vote; callers should still re-query first.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransportFailure || e.Kind == KindSubmissionTimeout
}

// Final reports whether the ledger executed the transaction and rejected it.
func (e *Error) Final() bool {
	switch e.Kind {
	case KindUnauthorized, KindNotRegistered, KindAlreadyVoted, KindUnknownCandidate:
		return true
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not a relay error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// errorForCode translates a non-zero ledger result code.
func errorForCode(code uint32, reason, txHash string) *Error {
	kind := KindRejected
	switch code {
	case abci.CodeTypeUnauthorized:
		kind = KindUnauthorized
	case abci.CodeTypeNotRegistered:
		kind = KindNotRegistered
	case abci.CodeTypeAlreadyVoted:
		kind = KindAlreadyVoted
	case abci.CodeTypeUnknownCandidate:
		kind = KindUnknownCandidate
	}
	return &Error{Kind: kind, Reason: reason, TxHash: txHash}
}
