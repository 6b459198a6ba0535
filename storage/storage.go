// Package storage persists raw row batches under the canonical
// dataset=<id>/run=<ts>.json layout, either on local disk or in an object
// store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/goccy/go-json"
)

// ContentTypeJSON is declared on every object put.
const ContentTypeJSON = "application/json"

// ErrStorageWrite wraps the backend error of a failed write unchanged.
type ErrStorageWrite struct {
	Destination string
	Target      string
	Err         error
}

func (e ErrStorageWrite) Error() string {
	return fmt.Sprintf("storage write %s %s: %v", e.Destination, e.Target, e.Err)
}

func (e ErrStorageWrite) Unwrap() error {
	return e.Err
}

// ObjectStore is a blob writer keyed by bucket and key.
type ObjectStore interface {
	// Scheme is the URI scheme used to report written objects, e.g. "s3".
	Scheme() string
	PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// Destination is either a LocalDestination or an ObjectDestination.
type Destination interface {
	isDestination()
	String() string
}

// LocalDestination writes files under Dir.
type LocalDestination struct {
	Dir string
}

func (LocalDestination) isDestination() {}

func (d LocalDestination) String() string {
	return "local:" + d.Dir
}

// ObjectDestination writes a single object per run to Bucket under Prefix.
type ObjectDestination struct {
	Bucket string
	Prefix string
}

func (ObjectDestination) isDestination() {}

func (d ObjectDestination) String() string {
	return "object:" + d.Bucket + "/" + d.Prefix
}

// RelativeName is the dataset/run portion shared by both layouts.
func RelativeName(datasetID, runTS string) string {
	return fmt.Sprintf("dataset=%s/run=%s.json", datasetID, runTS)
}

// LocalPath returns <dir>/dataset=<id>/run=<ts>.json.
func LocalPath(dir, datasetID, runTS string) string {
	return filepath.Join(dir, filepath.FromSlash(RelativeName(datasetID, runTS)))
}

// ObjectKey returns <prefix>/dataset=<id>/run=<ts>.json.
func ObjectKey(prefix, datasetID, runTS string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return RelativeName(datasetID, runTS)
	}
	return prefix + "/" + RelativeName(datasetID, runTS)
}

// ObjectURI renders scheme://bucket/key.
func ObjectURI(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// EncodeRows renders rows as an indented JSON array. A nil slice encodes as [].
func EncodeRows(rows []models.Row) ([]byte, error) {
	if rows == nil {
		rows = []models.Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return data, nil
}

// WriteLocal writes rows to LocalPath(dir, datasetID, runTS), replacing any
// existing file, and returns the path written.
func WriteLocal(dir string, rows []models.Row, datasetID, runTS string) (string, error) {
	path := LocalPath(dir, datasetID, runTS)

	data, err := EncodeRows(rows)
	if err != nil {
		return "", err
	}
	if err := ensureDir(path); err != nil {
		return "", ErrStorageWrite{Destination: "local", Target: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", ErrStorageWrite{Destination: "local", Target: path, Err: err}
	}
	return path, nil
}

// WriteObject puts rows to ObjectKey(prefix, datasetID, runTS) in bucket and
// returns the key.
func WriteObject(ctx context.Context, store ObjectStore, bucket, prefix string, rows []models.Row, datasetID, runTS string) (string, error) {
	if store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	key := ObjectKey(prefix, datasetID, runTS)

	data, err := EncodeRows(rows)
	if err != nil {
		return "", err
	}
	if err := store.PutObject(ctx, bucket, key, ContentTypeJSON, data); err != nil {
		return "", ErrStorageWrite{Destination: store.Scheme(), Target: ObjectURI(store.Scheme(), bucket, key), Err: err}
	}
	return key, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
