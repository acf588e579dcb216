package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesSeverityAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		severity  Severity
		retryable bool
	}{
		{"invalid argument", KindInvalidArgument, SeverityError, false},
		{"not found", KindNotFound, SeverityError, false},
		{"backend unavailable", KindBackendUnavailable, SeverityWarning, true},
		{"conflict", KindConflict, SeverityError, false},
		{"transient io", KindTransientIO, SeverityWarning, true},
		{"fatal", KindFatal, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, "boom")
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(KindConflict, "indexing already running")
	assert.Equal(t, "[CONFLICT] indexing already running", err.Error())

	wrapped := Wrap(KindTransientIO, "read failed", fs.ErrPermission)
	assert.Contains(t, wrapped.Error(), "TRANSIENT_IO")
	assert.Contains(t, wrapped.Error(), "permission denied")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindFatal, "ignored", nil))
}

func TestUnwrapPreservesChain(t *testing.T) {
	cause := fmt.Errorf("open index: %w", fs.ErrNotExist)
	err := Wrap(KindBackendUnavailable, "lexical open failed", cause)

	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIsMatchesByKind(t *testing.T) {
	err := NotFound("repository", "core")

	assert.True(t, stderrors.Is(err, New(KindNotFound, "anything")))
	assert.False(t, stderrors.Is(err, New(KindConflict, "anything")))
}

func TestKindOfWalksChain(t *testing.T) {
	inner := BackendUnavailable("vector", fs.ErrClosed)
	outer := fmt.Errorf("search: %w", inner)

	assert.Equal(t, KindBackendUnavailable, KindOf(outer))
	assert.True(t, IsKind(outer, KindBackendUnavailable))
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsFatal(outer))
}

func TestFatalDetection(t *testing.T) {
	err := Fatal("index corrupt", nil)
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestWithDetail(t *testing.T) {
	err := TransientIO("/repo/main.go", fs.ErrPermission).
		WithDetail("repository", "core")

	assert.Equal(t, "/repo/main.go", err.Details["path"])
	assert.Equal(t, "core", err.Details["repository"])
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}
