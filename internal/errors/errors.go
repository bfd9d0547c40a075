// Package errors defines the typed error model used throughout the
// replication engine. Every failure that crosses a component boundary is
// wrapped in a ReplicationError carrying a Kind (what went wrong) and an
// Origin (which side of the transfer produced it), mirroring the way the
// storage gateway tags its own S3Error values with a code and HTTP status
// instead of relying on sentinel errors or type assertions scattered around
// the codebase.
package errors

import "fmt"

// Kind classifies a failure for the retry runner and for status reporting.
type Kind string

const (
	// KindTransient covers network blips, timeouts, and 5xx responses from
	// either side that are expected to clear up on their own.
	KindTransient Kind = "Transient"
	// KindPermanentSource means the source object cannot be read again no
	// matter how many times the attempt is retried (e.g. the bucket or role
	// does not exist, or access is denied).
	KindPermanentSource Kind = "PermanentSource"
	// KindObjNotFound means the source object version no longer exists.
	KindObjNotFound Kind = "ObjNotFound"
	// KindInvalidObjectState means the object exists but is not currently
	// readable (e.g. a Glacier-class object that has not been restored).
	KindInvalidObjectState Kind = "InvalidObjectState"
	// KindPermanentTarget means the destination rejected the write in a way
	// that will not succeed on retry (bucket policy, quota, malformed key).
	KindPermanentTarget Kind = "PermanentTarget"
	// KindMalformed means the log entry or a gateway response could not be
	// parsed or did not match the shape the engine expects.
	KindMalformed Kind = "Malformed"
)

// Origin identifies which side of the replication produced the error.
type Origin string

const (
	OriginSource      Origin = "source"
	OriginTarget      Origin = "target"
	OriginUnspecified Origin = ""
)

// ReplicationError is the error value passed between gateways, the retry
// runner, and the task state machine. Unlike the storage gateway's S3Error,
// which carries an HTTP status for a response it writes back to a client,
// ReplicationError carries the fields the retry runner and status publisher
// need to decide whether to retry and how to report the failure.
type ReplicationError struct {
	Kind    Kind
	Origin  Origin
	Message string
	// Cause is the underlying error, if any (a wrapped SDK error).
	Cause error
	// ExtraFields holds diagnostic context surfaced in the status record,
	// e.g. "host": "s3.eu-west-1.amazonaws.com" or "partNumber": "4".
	ExtraFields map[string]string
}

// Error implements the error interface.
func (e *ReplicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("replication error [%s/%s]: %s: %v", e.Origin, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("replication error [%s/%s]: %s", e.Origin, e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *ReplicationError) Unwrap() error {
	return e.Cause
}

// WithExtra returns a copy of the error with the given extra field set.
func (e *ReplicationError) WithExtra(key, value string) *ReplicationError {
	cp := *e
	cp.ExtraFields = make(map[string]string, len(e.ExtraFields)+1)
	for k, v := range e.ExtraFields {
		cp.ExtraFields[k] = v
	}
	cp.ExtraFields[key] = value
	return &cp
}

// New builds a ReplicationError from a Kind, Origin and cause.
func New(kind Kind, origin Origin, message string, cause error) *ReplicationError {
	return &ReplicationError{Kind: kind, Origin: origin, Message: message, Cause: cause}
}

// Transient wraps cause as a retryable error from the given origin.
func Transient(origin Origin, message string, cause error) *ReplicationError {
	return New(KindTransient, origin, message, cause)
}

// ObjNotFound wraps cause as a source-object-missing error.
func ObjNotFound(message string, cause error) *ReplicationError {
	return New(KindObjNotFound, OriginSource, message, cause)
}

// PermanentSource wraps cause as a non-retryable source-side error (e.g.
// NoSuchEntity, AccessDenied, BadRole).
func PermanentSource(message string, cause error) *ReplicationError {
	return New(KindPermanentSource, OriginSource, message, cause)
}

// InvalidObjectState wraps cause as a precondition failure: the object
// exists but its current state makes the attempt invalid (mid-transfer
// mutation, already-completed site, failed precondition).
func InvalidObjectState(origin Origin, message string, cause error) *ReplicationError {
	return New(KindInvalidObjectState, origin, message, cause)
}

// PermanentTarget wraps cause as a non-retryable destination failure.
func PermanentTarget(message string, cause error) *ReplicationError {
	return New(KindPermanentTarget, OriginTarget, message, cause)
}

// Malformed wraps cause as a parse/shape failure, never retryable.
func Malformed(message string, cause error) *ReplicationError {
	return New(KindMalformed, OriginUnspecified, message, cause)
}

// Retryable reports whether err (expected to be, or wrap, a
// ReplicationError) should be retried by the retry runner. Only
// KindTransient is retryable; every other kind is a terminal failure for
// the current task attempt.
func Retryable(err error) bool {
	var re *ReplicationError
	if !As(err, &re) {
		return false
	}
	return re.Kind == KindTransient
}

// As walks err's Unwrap chain looking for a *ReplicationError, the same
// way the standard library's errors.As does for a single concrete type.
func As(err error, target **ReplicationError) bool {
	for err != nil {
		if re, ok := err.(*ReplicationError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf extracts the Kind of err, or the zero Kind if err does not wrap a
// ReplicationError.
func KindOf(err error) Kind {
	var re *ReplicationError
	if As(err, &re) {
		return re.Kind
	}
	return ""
}

// OriginOf extracts the Origin of err, or OriginUnspecified if err does not
// wrap a ReplicationError.
func OriginOf(err error) Origin {
	var re *ReplicationError
	if As(err, &re) {
		return re.Origin
	}
	return OriginUnspecified
}
