// Package store persists completed inbound binary transfers.
//
// The native host hands every reassembled chunked transfer to a Store keyed
// by transfer id, so large payloads survive the in-memory event path and can
// be fetched later by id. DiskStore keeps them on the local filesystem;
// S3Store puts them in an S3 bucket.
package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no transfer is stored under an id.
var ErrNotFound = errors.New("store: transfer not found")

// ErrTooLarge is returned when a transfer exceeds the store's size limit.
var ErrTooLarge = errors.New("store: transfer too large")

// ErrInvalidID is returned for ids that cannot be used as object names.
var ErrInvalidID = errors.New("store: invalid transfer id")

// Meta describes a stored transfer.
type Meta struct {
	ID        string    `json:"id"`
	ViewID    int64     `json:"view_id"`
	Target    string    `json:"target"`
	Method    string    `json:"method"`
	Size      int64     `json:"size"`
	Checksum  uint32    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// Object is an opened transfer. Close releases the reader.
type Object struct {
	Meta

	// Path is the local filesystem path (DiskStore).
	Path string

	// URL is a presigned download URL (S3Store), when available.
	URL string

	Reader io.ReadCloser
}

// Close closes the reader if open.
func (o *Object) Close() error {
	if o.Reader != nil {
		return o.Reader.Close()
	}
	return nil
}

// Store is implemented by transfer storage backends.
type Store interface {
	// Save stores the payload read from r under meta.ID.
	Save(ctx context.Context, meta Meta, r io.Reader) error

	// Open returns the stored transfer.
	Open(ctx context.Context, id string) (*Object, error)

	// Delete removes a stored transfer.
	Delete(ctx context.Context, id string) error

	// Cleanup removes transfers older than maxAge and returns how many
	// were removed.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return ErrInvalidID
	}
	return nil
}
