// Package storage keeps uploaded document files in a blob store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key    string
	Size   int64
	SHA256 string
}

// BlobStore stores opaque file content under string keys.
type BlobStore interface {
	// Put streams r to key, returning its size and SHA-256 digest.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*ObjectInfo, error)
	// Open returns the object's content. The caller must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns all keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

const maxFileNameLength = 120

// ObjectKey returns the blob key for a version's file:
// documents/{document_id}/{version_id}/{sanitised file name}.
func ObjectKey(documentID, versionID uuid.UUID, fileName string) string {
	return path.Join("documents", documentID.String(), versionID.String(), SanitizeFileName(fileName))
}

// SanitizeFileName reduces a client-supplied file name to a safe single path segment.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '-' || r == '_':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
	cleaned = strings.TrimLeft(cleaned, ".")

	if cleaned == "" {
		return "file"
	}
	if len(cleaned) > maxFileNameLength {
		ext := path.Ext(cleaned)
		if len(ext) > 16 {
			ext = ""
		}
		cleaned = cleaned[:maxFileNameLength-len(ext)] + ext
	}
	return cleaned
}

// validateKey rejects keys that could escape the store's namespace.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

// digestReader counts and hashes everything read through it.
type digestReader struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

func newDigestReader(r io.Reader) *digestReader {
	return &digestReader{r: r, h: sha256.New()}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.size += int64(n)
		d.h.Write(p[:n])
	}
	return n, err
}

func (d *digestReader) info(key string) *ObjectInfo {
	return &ObjectInfo{Key: key, Size: d.size, SHA256: hex.EncodeToString(d.h.Sum(nil))}
}
