// Package storage persists uploaded documents, masked outputs and audit
// reports under slash-separated keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a requested artifact does not exist in the store.
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidKey is returned for keys that are empty, absolute or escape the store root.
var ErrInvalidKey = errors.New("invalid artifact key")

// ArtifactStore exposes persistence operations for processing artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Artifact layout shared by the upload surface and the audit sink.
const (
	UploadsPrefix = "uploads/"
	ReportsPrefix = "reports/"

	DetectionsFile  = "detections.csv"
	SummaryJSONFile = "summary.json"
	SummaryTextFile = "summary.txt"
)

// UploadKey is the key of an original upload.
func UploadKey(id, name string) string {
	return UploadsPrefix + id + "_" + path.Base(strings.ReplaceAll(name, "\\", "/"))
}

// ProcessedKey is the key of the masked output of an upload. ext includes the dot.
func ProcessedKey(id, ext string) string {
	return UploadsPrefix + id + "_processed" + ext
}

// ReportKey is the key of one report artifact of an upload.
func ReportKey(id, file string) string {
	return ReportsPrefix + id + "/" + file
}

// cleanKey validates key and returns its canonical form.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
