package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := stderrors.New("db down")
	err := ErrInternalServer.WithInternal(cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrInternalServer)
	require.Contains(t, err.Error(), "db down")
	require.Nil(t, ErrInternalServer.Internal, "sentinel must not be mutated")
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	conflict := NewConflict("team exists")
	wrapped := fmt.Errorf("create team: %w", conflict)
	require.Same(t, conflict, FromError(wrapped))

	generic := FromError(stderrors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, generic.StatusCode)
	require.Equal(t, ErrInternalServer.Code, generic.Code)
}

func TestConstructors(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, NewBadRequest("content is required").StatusCode)
	require.Equal(t, "team not found", NewNotFound("team").Message)
	require.True(t, IsStatus(NewConflict("dup"), http.StatusConflict))
	require.False(t, IsStatus(stderrors.New("plain"), http.StatusConflict))

	custom := New("TEAM_HAS_MEMBERS", "team still has members", http.StatusBadRequest)
	require.ErrorIs(t, custom.WithMessage("other"), custom)
	require.NotErrorIs(t, custom, ErrBadRequest)
}

func TestWithFieldsKeepsIdentity(t *testing.T) {
	err := NewBadRequest("content is required").WithFields(map[string]string{"content": "content is required"})

	require.ErrorIs(t, err, ErrBadRequest)
	require.Equal(t, "content is required", err.Fields["content"])
	require.Nil(t, ErrBadRequest.Fields, "sentinel must not be mutated")
}
