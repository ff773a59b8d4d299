package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFail_WrapsPlainErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := Fail("insert message", cause)

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	require.Equal(t, "insert message", serverErr.Op)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "failed to insert message: connection reset", err.Error())
}

func TestFail_PassesTypedErrorsThrough(t *testing.T) {
	require.NoError(t, Fail("noop", nil))

	notFound := &NotFoundError{Resource: "user", ID: "u1"}
	require.Same(t, notFound, Fail("get user", notFound))

	conflict := &ConflictError{Message: "dup", Code: ConflictPairExists}
	require.Same(t, conflict, Fail("create conversation", conflict))
}

func TestSelect_UnknownStore(t *testing.T) {
	_, err := Select("does-not-exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown store "does-not-exist"`)
}
