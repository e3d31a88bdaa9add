package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeInternal, "leaf has callees"),
			expected: "[INTERNAL_ERROR] leaf has callees",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeTaskFailed, "scan A.m()V", errors.New("bad opcode")),
			expected: "[TASK_FAILED] scan A.m()V: bad opcode",
		},
		{
			name:     "formatted",
			err:      Newf(CodeInvalidInput, "unknown method %q", "B.n"),
			expected: `[INVALID_INPUT] unknown method "B.n"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeStorageError, "upload failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeInternal, "error 1")
	err2 := New(CodeInternal, "error 2")
	err3 := New(CodeTaskFailed, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestCyclicForceInlining(t *testing.T) {
	t.Run("NoCycle", func(t *testing.T) {
		err := CyclicForceInlining(nil)
		assert.True(t, IsCyclicForceInline(err))
		assert.Equal(t, "[CYCLIC_FORCE_INLINING] "+cyclicForceInliningMsg, err.Error())
	})

	t.Run("WithCycle", func(t *testing.T) {
		err := CyclicForceInlining([]string{"X.a()V", "Y.b()V"})
		assert.True(t, IsCyclicForceInline(err))
		assert.Contains(t, err.Error(), "X.a()V")
		assert.Contains(t, err.Error(), "Y.b()V")
	})

	t.Run("Wrapped", func(t *testing.T) {
		err := fmt.Errorf("build: %w", CyclicForceInlining(nil))
		assert.True(t, IsCyclicForceInline(err))
		assert.False(t, IsInternal(err))
	})
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"internal", Internal("node %d", 3), IsInternal, true},
		{"internal wrapped", fmt.Errorf("x: %w", ErrInternal), IsInternal, true},
		{"task failed", Wrap(CodeTaskFailed, "m", errors.New("boom")), IsTaskFailed, true},
		{"not found", ErrNotFound, IsNotFound, true},
		{"database", ErrDatabaseError, IsDatabaseError, true},
		{"plain error", errors.New("plain"), IsInternal, false},
		{"nil", nil, IsTaskFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeInternal, GetErrorCode(ErrInternal))
	assert.Equal(t, CodeCyclicForceInline, GetErrorCode(fmt.Errorf("wrap: %w", ErrCyclicForceInline)))
	assert.Equal(t, CodeUnknown, GetErrorCode(errors.New("plain")))
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "internal error", GetErrorMessage(ErrInternal))
	assert.Equal(t, "plain", GetErrorMessage(errors.New("plain")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
