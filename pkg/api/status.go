package api

import "strings"

// Status is the canonical transaction lifecycle vocabulary. Backend
// responses arrive in several historical spellings; NormalizeStatus is the
// single translation point and nothing un-normalized leaks past this
// package.
type Status string

const (
	StatusPendingSignature Status = "pending_signature"
	StatusSigned           Status = "signed"
	StatusBroadcasted      Status = "broadcasted"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// statusSynonyms maps known backend spellings (lower-cased) to the canonical
// vocabulary.
var statusSynonyms = map[string]Status{
	"pending_signature":  StatusPendingSignature,
	"awaiting_signature": StatusPendingSignature,
	"pending":            StatusPendingSignature,
	"created":            StatusPendingSignature,

	"signed":   StatusSigned,
	"approved": StatusSigned,

	"broadcasted": StatusBroadcasted,
	"broadcast":   StatusBroadcasted,
	"sent":        StatusBroadcasted,
	"submitted":   StatusBroadcasted,

	"completed": StatusCompleted,
	"confirmed": StatusCompleted,
	"mined":     StatusCompleted,
	"success":   StatusCompleted,
	"succeeded": StatusCompleted,

	"failed":   StatusFailed,
	"failure":  StatusFailed,
	"error":    StatusFailed,
	"reverted": StatusFailed,
}

// NormalizeStatus maps an arbitrary backend status spelling onto the
// canonical vocabulary. Matching is case-insensitive; anything unrecognized
// normalizes to pending_signature so success is never assumed.
func NormalizeStatus(raw string) Status {
	if canonical, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canonical
	}
	return StatusPendingSignature
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SignState is the canonical sign-request lifecycle vocabulary.
type SignState string

const (
	SignStatePending  SignState = "pending"
	SignStateSigned   SignState = "signed"
	SignStateRejected SignState = "rejected"
	SignStateExpired  SignState = "expired"
	SignStateFailed   SignState = "failed"
)

var signStateSynonyms = map[string]SignState{
	"pending":   SignStatePending,
	"created":   SignStatePending,
	"in_review": SignStatePending,
	"signed":    SignStateSigned,
	"completed": SignStateSigned,
	"success":   SignStateSigned,
	"rejected":  SignStateRejected,
	"declined":  SignStateRejected,
	"cancelled": SignStateRejected,
	"expired":   SignStateExpired,
	"timed_out": SignStateExpired,
	"failed":    SignStateFailed,
	"error":     SignStateFailed,
}

// NormalizeSignState maps a backend sign status spelling onto the canonical
// vocabulary, defaulting to pending for anything unrecognized.
func NormalizeSignState(raw string) SignState {
	if canonical, ok := signStateSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canonical
	}
	return SignStatePending
}

// Terminal reports whether the sign state can no longer change.
func (s SignState) Terminal() bool {
	return s == SignStateSigned || s == SignStateRejected ||
		s == SignStateExpired || s == SignStateFailed
}
