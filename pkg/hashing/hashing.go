package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
)

// Sum returns the hex digest of a byte buffer.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// SumReader hashes the full contents of r in chunks and restores the reader's
// original position afterwards, so a caller can hash an upload stream and then
// still store it. The result is identical to Sum over the same bytes.
func SumReader(r io.ReadSeeker) (string, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("save position: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return "", fmt.Errorf("restore position: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SetItem is one member of a content set: either free-form text or raw file
// bytes. Both variants compare and hash by their raw byte value.
type SetItem struct {
	raw []byte
}

// TextItem wraps free-form text as a set member.
func TextItem(text string) SetItem {
	return SetItem{raw: []byte(text)}
}

// BytesItem wraps raw bytes as a set member.
func BytesItem(data []byte) SetItem {
	raw := make([]byte, len(data))
	copy(raw, data)
	return SetItem{raw: raw}
}

// ContentSetHash identifies a deduplicated set of inputs for one user under
// one mode. Items are sorted by raw byte order before folding, so insertion
// order never changes the digest; each field is length-prefixed, so differing
// inputs cannot collide through concatenation ambiguity; the mode byte pairs
// the same material into distinct quiz and study identifiers.
func ContentSetHash(items []SetItem, userID string, quizMode bool) string {
	raws := make([][]byte, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := string(item.raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		raws = append(raws, item.raw)
	}
	sort.Slice(raws, func(i, j int) bool {
		return bytes.Compare(raws[i], raws[j]) < 0
	})
	h := sha256.New()
	for _, raw := range raws {
		writeLenPrefixed(h, raw)
	}
	writeLenPrefixed(h, []byte(userID))
	mode := byte(0)
	if quizMode {
		mode = 1
	}
	h.Write([]byte{mode})
	return hex.EncodeToString(h.Sum(nil))
}

// QuestionHash identifies one generated question's text scoped to a user: the
// same question regenerated for the same user collapses to one row, while two
// users asking identical text get distinct rows. Callers compute it before
// answer-choice shuffling so display order never changes identity.
func QuestionHash(questionText, userID string) string {
	h := sha256.New()
	writeLenPrefixed(h, []byte(questionText))
	writeLenPrefixed(h, []byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

func writeLenPrefixed(h hash.Hash, b []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(b)))
	h.Write(size[:])
	h.Write(b)
}
