package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/embedgraph/core/internal/errors"
)

func TestCursor_EncodeDecode_RoundTrips(t *testing.T) {
	c := Cursor{CommitHash: "abc123", Offset: 42}
	token := c.Encode()

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestCursor_DecodeEmptyToken_InvalidInput(t *testing.T) {
	_, err := DecodeCursor("")
	require.Error(t, err)
	assert.True(t, dberrors.IsKind(err, dberrors.KindInvalidInput))
}

func TestCursor_DecodeGarbage_CursorInvalidated(t *testing.T) {
	_, err := DecodeCursor("not-a-valid-cursor-at-all!!")
	require.Error(t, err)
}

func TestCursor_DecodeTamperedToken_ChecksumMismatch(t *testing.T) {
	c := Cursor{CommitHash: "abc123", Offset: 1}
	token := c.Encode()

	tampered := token[:len(token)-1] + "a"
	if tampered == token {
		tampered = token[:len(token)-1] + "b"
	}

	_, err := DecodeCursor(tampered)
	require.Error(t, err)
	assert.True(t, dberrors.IsKind(err, dberrors.KindCursorInvalidated))
}

func TestCursor_ZeroOffset_RoundTrips(t *testing.T) {
	c := Cursor{CommitHash: "main", Offset: 0}
	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
