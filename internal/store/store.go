// Package store is the durable side of the hub: pluggable backing-store
// backends plus the guarded persistence gateway that protects them from
// stale overwrites, content wipes and duplicate writes.
package store

import (
	"context"

	"github.com/saffronlab/loom/internal/domain"
)

// Record is the durable form of one project: the raw snapshot persisted
// verbatim plus its stamped version.
type Record struct {
	Raw       []byte
	UpdatedAt int64
}

// Summary is a listing row; payloads are not loaded.
type Summary struct {
	ID        domain.RoomID `json:"id"`
	UpdatedAt int64         `json:"updated_at"`
	Bytes     int           `json:"bytes"`
}

// Backend is a durable key-value store of project records. Get returns
// (nil, nil) when the record is absent.
type Backend interface {
	Get(ctx context.Context, id domain.RoomID) (*Record, error)
	Put(ctx context.Context, id domain.RoomID, rec Record) error
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id domain.RoomID) error
	Ping(ctx context.Context) error
	Close() error
}
