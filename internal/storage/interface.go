package storage

import (
	"context"
	"io"
)

// Storage is where user-supplied sheets live: the case data workbook/CSV and
// the data dictionary CSV are fetched by key at import time.
type Storage interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
}
