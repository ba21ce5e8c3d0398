package execution

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	type input struct {
		Title string `validate:"required"`
	}
	invalid := validator.New().Struct(input{})

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"typed", NewError(KindPermissionDenied, "nope"), KindPermissionDenied},
		{"wrapped typed", errors.Wrap(NewError(KindNotFound, "gone"), "resolve"), KindNotFound},
		{"validator", invalid, KindValidation},
		{"invalid request", errors.NewInvalidRequestError("bad id %q", "x"), KindValidation},
		{"not found sentinel", errors.NewNotFoundError("job %d", 7), KindNotFound},
		{"gorm not found", errors.Wrap(gorm.ErrRecordNotFound, "first job"), KindNotFound},
		{"forbidden", errors.NewForbiddenError("not yours"), KindPermissionDenied},
		{"unauthorized", errors.Wrap(errors.ErrUnauthorized, "me"), KindPermissionDenied},
		{"upstream", errors.MarkUpstream(sql.ErrConnDone, "bulk fetch"), KindUpstreamFailure},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "query"), KindUpstreamFailure},
		{"plain", errors.New("boom"), KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindPolicies(t *testing.T) {
	codes := map[ErrorKind]string{
		KindValidation:       "VALIDATION",
		KindNotFound:         "NOT_FOUND",
		KindPermissionDenied: "PERMISSION_DENIED",
		KindUpstreamFailure:  "UPSTREAM_FAILURE",
		KindUnexpected:       "UNEXPECTED",
	}
	for kind, code := range codes {
		assert.Equal(t, code, kind.Code())
	}

	assert.False(t, KindValidation.Logged())
	assert.False(t, KindNotFound.Logged())
	assert.False(t, KindPermissionDenied.Logged())
	assert.True(t, KindUpstreamFailure.Logged())
	assert.True(t, KindUnexpected.Logged())
	assert.Equal(t, "UNEXPECTED", ErrorKind(42).Code())
}

func TestCallerMessage(t *testing.T) {
	secret := errors.Newf("dial tcp 10.0.0.5:5432: connection refused")

	assert.Equal(t, "A backing service is temporarily unavailable",
		callerMessage(KindUpstreamFailure, errors.MarkUpstream(secret, "bulk fetch")))
	assert.Equal(t, "An unexpected error occurred", callerMessage(KindUnexpected, secret))
	assert.Equal(t, "job 7 was not found", callerMessage(KindNotFound, NewError(KindNotFound, "job %d was not found", 7)))

	type input struct {
		Title string `validate:"required"`
		Limit int    `validate:"max=50"`
	}
	err := validator.New().Struct(input{Limit: 99})
	assert.Equal(t, "invalid input: Title must satisfy required; Limit must satisfy max=50",
		callerMessage(KindValidation, err))
}
