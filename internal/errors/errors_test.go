package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid sort column")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid sort column", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid sort column")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("table not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestConflictError(t *testing.T) {
	err := ConflictError("table is full")

	assert.Equal(t, TypeConflict, err.Type)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
	assert.Contains(t, err.Error(), "table is full")
}

func TestUnavailableError(t *testing.T) {
	cause := fmt.Errorf("offline queue full")
	err := UnavailableError("action rejected", cause)

	assert.Equal(t, TypeUnavailable, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.Contains(t, err.Error(), "offline queue full")
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("redis connection failed")
	err := InternalError("failed to persist queue", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "failed to persist queue")
	assert.Contains(t, err.Error(), "redis connection failed")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something broke", nil)

	assert.Nil(t, err.Cause)
	assert.Contains(t, err.Error(), "something broke")
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithContextChaining(t *testing.T) {
	err := NotFoundError("table not found").
		WithContext("table_id", "t42").
		WithContext("source", "join_table")

	assert.Equal(t, "t42", err.Context["table_id"])
	assert.Equal(t, "join_table", err.Context["source"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "bare"}
	err.WithContext("key", "value")

	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("buyIn must be positive").WithContext("buy_in", -5)
	resp := err.ToResponse()

	assert.Equal(t, "buyIn must be positive", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, -5, resp.Context["buy_in"])
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := InternalError("wrapped", cause)

	assert.ErrorIs(t, err, cause)
}

func TestErrorsAs(t *testing.T) {
	var target *Error
	wrapped := fmt.Errorf("outer: %w", NotFoundError("table not found"))

	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, TypeNotFound, target.Type)
}

func TestAsStructuredErrorWithStructuredError(t *testing.T) {
	original := ConflictError("seat taken")
	converted := AsStructuredError(original)

	assert.Same(t, original, converted)
}

func TestAsStructuredErrorWithStandardError(t *testing.T) {
	err := AsStructuredError(fmt.Errorf("plain failure"))

	require.NotNil(t, err)
	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, "internal server error", err.Message)
}

func TestAsStructuredErrorWithNil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}

func TestHTTPStatusAllTypes(t *testing.T) {
	cases := []struct {
		errType ErrorType
		status  int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeNotFound, http.StatusNotFound},
		{TypeConflict, http.StatusConflict},
		{TypeUnavailable, http.StatusServiceUnavailable},
		{TypeInternal, http.StatusInternalServerError},
		{ErrorType("bogus"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		err := &Error{Type: tc.errType, Message: "x"}
		assert.Equal(t, tc.status, err.HTTPStatus(), "type %s", tc.errType)
	}
}
