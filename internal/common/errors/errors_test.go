package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	t.Run("NotFound carries resource and id in the message", func(t *testing.T) {
		err := NotFound("agent", "foo")
		assert.Equal(t, ErrCodeNotFound, err.Code)
		assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
		assert.Contains(t, err.Message, "agent")
		assert.Contains(t, err.Message, "foo")
	})

	t.Run("BadRequest carries the message verbatim", func(t *testing.T) {
		err := BadRequest("prompt must be non-empty")
		assert.Equal(t, "prompt must be non-empty", err.Message)
		assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	})

	t.Run("Conflict maps to 409", func(t *testing.T) {
		err := Conflict("no_pending_permissions")
		assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	})

	t.Run("Timeout maps to 408", func(t *testing.T) {
		err := Timeout("ask timed out")
		assert.Equal(t, http.StatusRequestTimeout, err.HTTPStatus)
	})

	t.Run("AgentFailure and InternalError wrap the underlying error", func(t *testing.T) {
		cause := errors.New("boom")
		af := AgentFailure("agent failed", cause)
		assert.Equal(t, cause, af.Unwrap())
		ie := InternalError("unexpected", cause)
		assert.Equal(t, cause, ie.Unwrap())
	})

	t.Run("ServiceUnavailable maps to 503", func(t *testing.T) {
		err := ServiceUnavailable("acp bridge")
		assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
		assert.Contains(t, err.Message, "acp bridge")
	})
}

func TestError(t *testing.T) {
	t.Run("without a wrapped error", func(t *testing.T) {
		err := BadRequest("bad")
		assert.Equal(t, "BAD_REQUEST: bad", err.Error())
	})

	t.Run("with a wrapped error", func(t *testing.T) {
		err := InternalError("failed", errors.New("underlying"))
		assert.Equal(t, "INTERNAL_ERROR: failed: underlying", err.Error())
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "context"))
	})

	t.Run("preserves an AppError's code and status", func(t *testing.T) {
		inner := NotFound("agent", "foo")
		wrapped := Wrap(inner, "starting agent")
		require.Equal(t, ErrCodeNotFound, wrapped.Code)
		assert.Equal(t, http.StatusNotFound, wrapped.HTTPStatus)
		assert.Contains(t, wrapped.Message, "starting agent")
	})

	t.Run("treats a plain error as internal", func(t *testing.T) {
		wrapped := Wrap(errors.New("raw"), "context")
		assert.Equal(t, ErrCodeInternalError, wrapped.Code)
		assert.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("agent", "foo")))
	assert.False(t, IsNotFound(BadRequest("bad")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(Conflict("x")))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
}
