// Package storage keeps the original upload bytes of each document, either on
// local disk or in an S3 bucket.
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BlobStore writes and removes whole objects addressed by key. Put returns a
// location string recorded on the document row.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Key is the object name for a document: "<id>.<ext>".
func Key(documentID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s.%s", documentID, ext)
}
