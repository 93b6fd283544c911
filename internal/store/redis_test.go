package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/saffronlab/loom/internal/domain"
)

func setupRedis(t *testing.T) *RedisBackend {
	t.Helper()
	s := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("redis backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestRedisBackendCRUD(t *testing.T) {
	b := setupRedis(t)
	ctx := context.Background()
	id := domain.RoomID("proj-1")

	if rec, err := b.Get(ctx, id); err != nil || rec != nil {
		t.Fatalf("Get(absent) = %v, %v; want nil, nil", rec, err)
	}

	raw := []byte(`{"documents":[],"updated_at":42}`)
	if err := b.Put(ctx, id, Record{Raw: raw, UpdatedAt: 42}); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, err := b.Get(ctx, id)
	if err != nil || rec == nil {
		t.Fatalf("get: %v, %v", rec, err)
	}
	if string(rec.Raw) != string(raw) || rec.UpdatedAt != 42 {
		t.Fatalf("roundtrip mismatch: %+v", rec)
	}

	list, err := b.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].UpdatedAt != 42 {
		t.Fatalf("list = %+v", list)
	}

	if err := b.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec, _ := b.Get(ctx, id); rec != nil {
		t.Fatal("record survived delete")
	}
	if list, _ := b.List(ctx); len(list) != 0 {
		t.Fatalf("index survived delete: %+v", list)
	}
}
