// Package domain defines the error taxonomy and wire-level error model shared by
// the redaction processor, the upload API and the CLI.
//
// This package has no dependencies outside the Go standard library so that
// every other package can depend on it without pulling infrastructure along.
package domain
