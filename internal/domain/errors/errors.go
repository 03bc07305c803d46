package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// Estimate errors
	ErrEstimateNotFound   = errors.New("estimate not found")
	ErrEstimateNotPayable = errors.New("estimate is not payable")
	ErrEstimateExpired    = errors.New("estimate has expired")
	ErrNothingToPay       = errors.New("nothing left to pay on estimate")
	ErrLeadNotFound       = errors.New("lead not found")

	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrInvalidPaymentType     = errors.New("invalid payment type")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCheckoutInProgress     = errors.New("checkout for this idempotency key is still in progress")

	// Processor errors
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrInvalidSignature     = errors.New("invalid webhook signature")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Concurrency errors
	ErrOptimisticLockFailed        = errors.New("optimistic lock conflict")
	ErrTransactionRetriesExhausted = errors.New("transaction failed after retries")
	ErrLockAcquisitionFailed       = errors.New("failed to acquire lock")
	ErrLockNotHeld                 = errors.New("lock not held")

	// Resilience errors
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrRetriesExhausted = errors.New("retries exhausted")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// Kind is the closed set of failure classes the resilience layer switches on.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimit
	KindTransient
	KindStructural
	KindCircuitOpen
	KindConflict
	KindValidation
	KindExternalService
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindTimeout:         "timeout",
	KindRateLimit:       "rate_limit",
	KindTransient:       "transient",
	KindStructural:      "structural",
	KindCircuitOpen:     "circuit_open",
	KindConflict:        "conflict",
	KindValidation:      "validation",
	KindExternalService: "external_service",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
// Conflicts are excluded: only the transaction coordinator retries them.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindTransient:
		return true
	default:
		return false
	}
}

// Error is a classified failure. It is built where a raw downstream error is first caught.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// RetryAfter is the downstream's own retry hint, zero when none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Timeout(op string, err error) *Error {
	return E(KindTimeout, op, "deadline exceeded", err)
}

func RateLimited(op string, retryAfter time.Duration, err error) *Error {
	e := E(KindRateLimit, op, "rate limited", err)
	e.RetryAfter = retryAfter
	return e
}

func Transient(op string, err error) *Error {
	return E(KindTransient, op, "transient downstream failure", err)
}

func Structural(op, message string, err error) *Error {
	return E(KindStructural, op, message, err)
}

func Conflict(op string, err error) *Error {
	return E(KindConflict, op, "conflicting concurrent transaction", err)
}

// ExternalService wraps a payment processor failure, keeping the processor's message.
func ExternalService(op, message string, err error) *Error {
	return E(KindExternalService, op, message, err)
}

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrCircuitOpen, KindCircuitOpen},
	{ErrOptimisticLockFailed, KindConflict},
	{ErrTransactionRetriesExhausted, KindConflict},
	{ErrCheckoutInProgress, KindConflict},
	{ErrDuplicateIdempotencyKey, KindConflict},
	{ErrLockAcquisitionFailed, KindConflict},
	{ErrEstimateNotPayable, KindValidation},
	{ErrEstimateExpired, KindValidation},
	{ErrNothingToPay, KindValidation},
	{ErrInvalidPaymentType, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidStateTransition, KindValidation},
	{ErrInvalidSignature, KindValidation},
	{ErrValidationFailed, KindValidation},
	{ErrInvalidInput, KindValidation},
	{ErrProcessorUnavailable, KindExternalService},
}

// KindOf classifies err. Errors that carry no classification report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether the executor may try the operation again.
// An error that already exhausted its retries keeps its kind but is final.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the rate-limit hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimit && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
