package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	require.Equal(t, "failed: boom", err.Error())
	require.ErrorIs(t, err, internal)
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", http.StatusBadRequest)
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestCopiesMatchSentinelByCode(t *testing.T) {
	sentinel := New("CAMPAIGN_FULL", "Campaign is full", http.StatusConflict)

	withDetails := sentinel.WithDetails(map[string]any{"campaign": "launch"})
	wrapped := fmt.Errorf("claim: %w", withDetails)

	require.ErrorIs(t, wrapped, sentinel)
	require.NotErrorIs(t, wrapped, ErrNotFound)
	require.Equal(t, "launch", withDetails.Details["campaign"])
	require.Nil(t, sentinel.Details)
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	require.Same(t, appErr, FromError(appErr))

	raw := stdErrors.New("raw")
	out := FromError(raw)
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)

	require.Nil(t, FromError(nil))
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, "invalid payload", err.Message)
	require.Equal(t, ErrBadRequest.StatusCode, err.StatusCode)
}
