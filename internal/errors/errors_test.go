package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkUpstream(t *testing.T) {
	cause := New("dial tcp 127.0.0.1:5432: connection refused")
	err := MarkUpstream(cause, "bulk fetch jobs")

	require.NotNil(t, err)
	assert.True(t, IsUpstream(err))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "bulk fetch jobs")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMarkUpstreamNil(t *testing.T) {
	assert.Nil(t, MarkUpstream(nil, "ignored"))
	assert.False(t, IsUpstream(nil))
}

func TestMarkSurvivesWrapping(t *testing.T) {
	err := Wrap(fmt.Errorf("outer: %w", MarkUpstream(New("boom"), "ctx")), "resolver")
	assert.True(t, IsUpstream(err))
	assert.False(t, IsNotFoundError(err))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{"not found", NewNotFoundError("job %d", 7), ErrNotFound, "job 7"},
		{"invalid", NewInvalidRequestError("bad id %q", "x"), ErrInvalidRequest, `bad id "x"`},
		{"forbidden", NewForbiddenError("user %d", 3), ErrForbidden, "user 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}
