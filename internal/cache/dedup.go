package cache

import (
	"context"
	"time"
)

// Deduper hands out one-time claims on keys.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	// Claim marks key as seen and reports whether this caller was first.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the key can be claimed again.
	Release(ctx context.Context, key string) error
}

// StoreDeduper implements Deduper on any Store.
type StoreDeduper struct {
	store  Store
	prefix string
}

// NewDeduper namespaces markers under prefix so unrelated callers cannot collide.
func NewDeduper(store Store, prefix string) *StoreDeduper {
	return &StoreDeduper{store: store, prefix: prefix}
}

func (d *StoreDeduper) Seen(ctx context.Context, key string) (bool, error) {
	_, ok, err := d.store.Get(ctx, d.key(key))
	return ok, err
}

func (d *StoreDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.store.SetIfAbsent(ctx, d.key(key), []byte("1"), ttl)
}

func (d *StoreDeduper) Release(ctx context.Context, key string) error {
	return d.store.Delete(ctx, d.key(key))
}

func (d *StoreDeduper) key(key string) string {
	return d.prefix + ":" + key
}
