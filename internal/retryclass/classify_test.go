package retryclass

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ContextErrorsPassThroughUnchanged(t *testing.T) {
	assert.Equal(t, context.Canceled, Classify(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, Classify(context.DeadlineExceeded))
}

func TestClassify_AlreadyClassifiedIsReturnedAsIs(t *testing.T) {
	original := NewTransient(CodeTmsTimeout, "slow", nil)
	got := Classify(original)
	require.Same(t, original, got)
}

func TestClassify_HTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		class  Classification
		code   Code
	}{
		{500, Transient, CodeTmsServer},
		{503, Transient, CodeTmsServer},
		{401, Permanent, CodeTmsAuth},
		{403, Permanent, CodeTmsAuth},
		{404, Permanent, CodeTmsNotFound},
		{400, Permanent, CodeTmsServer},
	}
	for _, c := range cases {
		err := Classify(&HTTPStatusError{Status: c.status})
		var classified *Error
		require.True(t, errors.As(err, &classified))
		assert.Equal(t, c.class, classified.Classification, "status %d", c.status)
		assert.Equal(t, c.code, classified.Code, "status %d", c.status)
	}
}

func TestClassify_Errno(t *testing.T) {
	err := Classify(syscall.ETIMEDOUT)
	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.True(t, classified.IsTransient())

	err = Classify(syscall.EACCES)
	require.True(t, errors.As(err, &classified))
	assert.False(t, classified.IsTransient())
}

func TestClassify_FallsBackToPermanentUnknown(t *testing.T) {
	err := Classify(errors.New("mystery failure"))
	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, Permanent, classified.Classification)
	assert.Equal(t, CodeUnknown, classified.Code)
}

func TestHint_FallsBackForUnknownCode(t *testing.T) {
	assert.Equal(t, Hint(CodeUnknown), Hint(Code("not-a-real-code")))
}
