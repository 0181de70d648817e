// internal/requirement/errors.go
package requirement

import "errors"

// ErrParse is matched by every requirement or checker config parse failure.
var ErrParse = errors.New("parse error")

// Kind identifies which constraint a requirement string violated.
type Kind int

const (
	KindBadCharacters Kind = iota + 1
	KindMissingHours
	KindMalformedHours
	KindHoursRelationship
	KindHoursRange
	KindMissingMinutes
	KindMalformedMinutes
	KindMinutesRelationship
	KindMinutesRange
	KindMinutesStride
	KindMissingDayOfWeek
	KindMissingMinNum
	KindMissingMaxNum
	KindMalformedCount
	KindMinMax
	KindMissingLookback
	KindMalformedLookback
	KindLookback
	KindEmpty
	KindLookbackTooLong
)

// ValidationError is returned by Parse. Its message matches the wording
// operators already grep for in logs.
type ValidationError struct {
	Kind    Kind
	Message string
	Input   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is reports whether target is a ValidationError of the same Kind, so the
// package-level sentinels below can be used with errors.Is.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

func (e *ValidationError) Unwrap() error {
	return ErrParse
}

var (
	ErrBadCharacters       = &ValidationError{Kind: KindBadCharacters, Message: "Bad characters detected in requirements"}
	ErrMissingHours        = &ValidationError{Kind: KindMissingHours, Message: "missing CHECKHOURS"}
	ErrMalformedHours      = &ValidationError{Kind: KindMalformedHours, Message: "Couldn't parse hours info"}
	ErrHoursRelationship   = &ValidationError{Kind: KindHoursRelationship, Message: "bad hours relationship"}
	ErrHoursRange          = &ValidationError{Kind: KindHoursRange, Message: "out of range hours specified"}
	ErrMissingMinutes      = &ValidationError{Kind: KindMissingMinutes, Message: "missing CHECKMINUTES"}
	ErrMalformedMinutes    = &ValidationError{Kind: KindMalformedMinutes, Message: "Couldn't parse minutes info"}
	ErrMinutesRelationship = &ValidationError{Kind: KindMinutesRelationship, Message: "bad minutes relationship"}
	ErrMinutesRange        = &ValidationError{Kind: KindMinutesRange, Message: "out of range minutes specified"}
	ErrMinutesStride       = &ValidationError{Kind: KindMinutesStride, Message: "out of range minutes stride"}
	ErrMissingDayOfWeek    = &ValidationError{Kind: KindMissingDayOfWeek, Message: "No weekend/weekday info supplied"}
	ErrMissingMinNum       = &ValidationError{Kind: KindMissingMinNum, Message: "missing MINNUM"}
	ErrMissingMaxNum       = &ValidationError{Kind: KindMissingMaxNum, Message: "missing MAXNUM"}
	ErrMalformedCount      = &ValidationError{Kind: KindMalformedCount, Message: "Couldn't parse minnum/maxnum info"}
	ErrMinMax              = &ValidationError{Kind: KindMinMax, Message: "bad minnum/maxnum"}
	ErrMissingLookback     = &ValidationError{Kind: KindMissingLookback, Message: "missing LOOKBACKSECONDS"}
	ErrMalformedLookback   = &ValidationError{Kind: KindMalformedLookback, Message: "Couldn't parse lookback info"}
	ErrLookback            = &ValidationError{Kind: KindLookback, Message: "bad lookback seconds"}
	ErrEmpty               = &ValidationError{Kind: KindEmpty, Message: "no requirements found"}
	ErrLookbackTooLong     = &ValidationError{Kind: KindLookbackTooLong, Message: "lookback seconds too large"}
)

func fail(sentinel *ValidationError, input string) *ValidationError {
	return &ValidationError{Kind: sentinel.Kind, Message: sentinel.Message, Input: input}
}
