// Package governance holds the admission controls applied in front of
// document processing: per-client token buckets for uploads.
package governance
