package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := stderrors.New("original error")

	dbErr := New(ErrCodeStoragePermanent, "write failed", originalErr)

	require.NotNil(t, dbErr)
	assert.Equal(t, originalErr, stderrors.Unwrap(dbErr))
	assert.True(t, stderrors.Is(dbErr, originalErr))
}

func TestDBError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		component string
		message   string
		expected  string
	}{
		{
			name:      "no component",
			code:      ErrCodeNotFound,
			component: "",
			message:   "noun not found",
			expected:  "[ERR_201_NOT_FOUND] noun not found",
		},
		{
			name:      "with component",
			code:      ErrCodeIndexCorruption,
			component: "metadata",
			message:   "chunk checksum mismatch",
			expected:  "[metadata:ERR_401_INDEX_CORRUPTION] chunk checksum mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil).WithComponent(tt.component)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestDBError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeNotFound, "noun A not found", nil)
	err2 := New(ErrCodeNotFound, "noun B not found", nil)

	assert.True(t, stderrors.Is(err1, err2))
}

func TestDBError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeNotFound, "not found", nil)
	err2 := New(ErrCodeAlreadyExists, "already exists", nil)

	assert.False(t, stderrors.Is(err1, err2))
}

func TestDBError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeChunkCorruption, "bad chunk", nil)

	err = err.WithDetail("field", "status")
	err = err.WithDetail("chunkId", "3")

	assert.Equal(t, "status", err.Details["field"])
	assert.Equal(t, "3", err.Details["chunkId"])
}

func TestDBError_WithComponent(t *testing.T) {
	err := New(ErrCodeGraphAsymmetry, "src->tgt missing reverse edge", nil).WithComponent("graph")

	assert.Equal(t, "graph", err.Component)
}

func TestDBError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeTypeConflict, CategoryValidation},
		{ErrCodeUnknownNounType, CategoryValidation},
		{ErrCodeNotFound, CategoryStorage},
		{ErrCodeAlreadyExists, CategoryStorage},
		{ErrCodeStorageTransient, CategoryStorage},
		{ErrCodeConcurrentWrite, CategoryConcurrency},
		{ErrCodeCursorInvalidated, CategoryConcurrency},
		{ErrCodeIndexCorruption, CategoryIndex},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestDBError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeIndexCorruption, SeverityFatal},
		{ErrCodeChunkCorruption, SeverityFatal},
		{ErrCodeGraphAsymmetry, SeverityFatal},
		{ErrCodeNotFound, SeverityError},
		{ErrCodeStorageTransient, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestDBError_KindFromCode(t *testing.T) {
	tests := []struct {
		code     string
		wantKind Kind
	}{
		{ErrCodeNotFound, KindNotFound},
		{ErrCodeAlreadyExists, KindAlreadyExists},
		{ErrCodeInvalidInput, KindInvalidInput},
		{ErrCodeIndexCorruption, KindIndexCorruption},
		{ErrCodeChunkCorruption, KindIndexCorruption},
		{ErrCodeStorageTransient, KindStorageTransient},
		{ErrCodeStoragePermanent, KindStoragePermanent},
		{ErrCodeConcurrentWrite, KindConcurrentWrite},
		{ErrCodeCursorInvalidated, KindCursorInvalidated},
		{ErrCodeCancelled, KindCancelled},
		{ErrCodeCapacityExceeded, KindCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantKind, err.Kind)
		})
	}
}

func TestDBError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeStorageTransient, true},
		{ErrCodeNotFound, false},
		{ErrCodeStoragePermanent, false},
		{ErrCodeIndexCorruption, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesDBErrorFromError(t *testing.T) {
	originalErr := stderrors.New("something went wrong")

	dbErr := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, dbErr)
	assert.Equal(t, ErrCodeInternal, dbErr.Code)
	assert.Equal(t, "something went wrong", dbErr.Message)
	assert.Equal(t, originalErr, dbErr.Cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStorageTransient, nil))
}

func TestNotFound_CreatesStorageCategoryError(t *testing.T) {
	err := NotFound("idmap", "uuid not mapped")

	assert.Equal(t, CategoryStorage, err.Category)
	assert.Equal(t, "idmap", err.Component)
}

func TestAlreadyExists_CreatesStorageCategoryError(t *testing.T) {
	err := AlreadyExists("db", "explicit id collides with existing noun")

	assert.Equal(t, CategoryStorage, err.Category)
}

func TestInvalidInput_CreatesValidationCategoryError(t *testing.T) {
	err := InvalidInput("query", "limit must be positive")

	assert.Equal(t, CategoryValidation, err.Category)
}

func TestStorageTransient_CreatesRetryableError(t *testing.T) {
	err := StorageTransient("blobstore", stderrors.New("connection reset"))

	assert.Equal(t, CategoryStorage, err.Category)
	assert.True(t, err.Retryable)
}

func TestConcurrentWrite_CarriesBranchDetail(t *testing.T) {
	err := ConcurrentWrite("cow", "main")

	assert.Equal(t, KindConcurrentWrite, err.Kind)
	assert.Equal(t, "main", err.Details["branch"])
}

func TestCapacityExceeded_MessageIncludesSizes(t *testing.T) {
	err := CapacityExceeded("cache", 2048, 1024)

	assert.Equal(t, KindCapacityExceeded, err.Kind)
	assert.Contains(t, err.Message, "2048")
	assert.Contains(t, err.Message, "1024")
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable DBError",
			err:      New(ErrCodeStorageTransient, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable DBError",
			err:      New(ErrCodeNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeStorageTransient, stderrors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      stderrors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeIndexCorruption, "index corrupt", nil),
			expected: true,
		},
		{
			name:     "graph asymmetry is fatal",
			err:      New(ErrCodeGraphAsymmetry, "missing reverse edge", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      stderrors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := CursorInvalidated("query")

	assert.True(t, IsKind(err, KindCursorInvalidated))
	assert.False(t, IsKind(err, KindNotFound))
}

func TestGetCodeAndCategory_OnPlainError(t *testing.T) {
	plain := stderrors.New("boom")

	assert.Equal(t, "", GetCode(plain))
	assert.Equal(t, Category(""), GetCategory(plain))
}
