package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason refines a code with a machine readable cause.
type Reason string

const (
	ReasonModuleNotFound       Reason = "MODULE_NOT_FOUND"
	ReasonQuestionBankTooSmall Reason = "QUESTION_BANK_TOO_SMALL"
	ReasonCooldownActive       Reason = "COOLDOWN_ACTIVE"
	ReasonAttemptLimitExceeded Reason = "ATTEMPT_LIMIT_EXCEEDED"
	ReasonInvalidAttemptRef    Reason = "INVALID_ATTEMPT_REF"
	ReasonInvalidAnswer        Reason = "INVALID_ANSWER"
	ReasonAlreadyGraded        Reason = "ALREADY_GRADED"
	ReasonPortfolioNotFound    Reason = "PORTFOLIO_NOT_FOUND"
	ReasonPortfolioInactive    Reason = "PORTFOLIO_INACTIVE"
	ReasonPositionNotFound     Reason = "POSITION_NOT_FOUND"
	ReasonInsufficientFunds    Reason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientShares   Reason = "INSUFFICIENT_SHARES"
)

// reason2http overrides the code mapping where the HTTP API promises a different status.
var reason2http = map[Reason]int{
	ReasonInsufficientFunds: http.StatusPaymentRequired,
}

type Error struct {
	Code    Code       `json:"code"`
	Reason  Reason     `json:"reason,omitempty"`
	Message string     `json:"message"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := reason2http[e.Reason]; ok {
		return c
	}

	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Is matches errors by code and reason, so callers can compare against a template:
// errors.Is(err, errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonModuleNotFound))).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return e.Code == t.Code && (t.Reason == "" || e.Reason == t.Reason)
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// HasReason reports whether err is an *Error carrying the reason.
func HasReason(err error, r Reason) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == r
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}

// WithRetryAt tells the caller when a policy error stops applying.
func WithRetryAt(t time.Time) Option {
	return optionFunc(func(e *Error) {
		e.RetryAt = &t
	})
}
