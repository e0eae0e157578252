package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/afribourse/internal/errors"
)

func TestError_HTTPStatusCode(t *testing.T) {
	tests := map[string]struct {
		err  *errors.Error
		want int
	}{
		"invalid argument": {
			err:  errors.New(errors.CodeInvalidArgument),
			want: http.StatusBadRequest,
		},
		"not found": {
			err:  errors.New(errors.CodeNotFound, errors.WithReason(errors.ReasonPortfolioNotFound)),
			want: http.StatusNotFound,
		},
		"failed precondition": {
			err:  errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonInsufficientShares)),
			want: http.StatusConflict,
		},
		"insufficient funds overrides the code": {
			err:  errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonInsufficientFunds)),
			want: http.StatusPaymentRequired,
		},
		"cooldown": {
			err:  errors.New(errors.CodeResourceExhausted, errors.WithReason(errors.ReasonCooldownActive)),
			want: http.StatusTooManyRequests,
		},
		"unknown code": {
			err:  errors.New(errors.Code(codes.DataLoss)),
			want: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("submit: %w", errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonAlreadyGraded)))

	require.ErrorIs(t, err, errors.New(errors.CodeFailedPrecondition))
	require.ErrorIs(t, err, errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonAlreadyGraded)))
	require.NotErrorIs(t, err, errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonCooldownActive)))
	require.NotErrorIs(t, err, errors.New(errors.CodeNotFound))

	require.True(t, errors.HasReason(err, errors.ReasonAlreadyGraded))
	require.False(t, errors.HasReason(stderrors.New("boom"), errors.ReasonAlreadyGraded))
}

func TestConvert(t *testing.T) {
	cause := stderrors.New("connection reset")

	e := errors.Convert(fmt.Errorf("load: %w", cause))
	require.Equal(t, errors.CodeInternal, e.Code)
	require.ErrorIs(t, e, cause)

	nf := errors.New(errors.CodeNotFound, errors.WithMessagef("module %q not found", "m1"))
	require.Same(t, nf, errors.Convert(fmt.Errorf("wrap: %w", nf)))
	require.Equal(t, `module "m1" not found`, nf.Message)
}

func TestError_GRPCStatus(t *testing.T) {
	retry := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)
	err := errors.New(errors.CodeResourceExhausted,
		errors.WithReason(errors.ReasonCooldownActive),
		errors.WithRetryAt(retry),
	)

	s, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.ResourceExhausted, s.Code())
	require.Equal(t, retry, *err.RetryAt)
	require.Contains(t, err.Error(), "COOLDOWN_ACTIVE")
}
