package query

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"strings"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// Cursor is an opaque pagination token pinned to the commit hash the
// query ran against, so paging through results never observes writes
// made after the first page (spec.md §5 RYW semantics).
type Cursor struct {
	CommitHash string
	Offset     int
}

// Encode serializes c into an opaque, URL-safe token. The format is not
// part of any compatibility contract; callers must treat it as a blob.
func (c Cursor) Encode() string {
	var buf []byte
	buf = append(buf, byte(len(c.CommitHash)))
	buf = append(buf, []byte(c.CommitHash)...)
	offsetBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(offsetBytes, uint64(c.Offset))
	buf = append(buf, offsetBytes...)

	checksum := crc32.ChecksumIEEE(buf)
	checksumBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(checksumBytes, checksum)
	buf = append(buf, checksumBytes...)

	return base64.RawURLEncoding.EncodeToString(buf)
}

// DecodeCursor parses a token produced by Cursor.Encode, rejecting any
// token whose checksum doesn't match (corrupted or hand-edited).
func DecodeCursor(token string) (Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return Cursor{}, dberrors.InvalidInput("query", "empty cursor")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, dberrors.CursorInvalidated("query").WithDetail("reason", "malformed encoding")
	}
	if len(raw) < 1 {
		return Cursor{}, dberrors.CursorInvalidated("query").WithDetail("reason", "truncated")
	}

	nameLen := int(raw[0])
	need := 1 + nameLen + 8 + 4
	if len(raw) != need {
		return Cursor{}, dberrors.CursorInvalidated("query").WithDetail("reason", "truncated")
	}

	body := raw[:len(raw)-4]
	wantChecksum := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(body) != wantChecksum {
		return Cursor{}, dberrors.CursorInvalidated("query").WithDetail("reason", "checksum mismatch")
	}

	commitHash := string(raw[1 : 1+nameLen])
	offset := int(binary.BigEndian.Uint64(raw[1+nameLen : 1+nameLen+8]))
	return Cursor{CommitHash: commitHash, Offset: offset}, nil
}
