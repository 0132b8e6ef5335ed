// Package gcs provides a cache store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

const (
	metaCreatedAt = "created_at"
	metaTTL       = "ttl_ns"
)

// Config captures the parameters required to address cache objects in GCS.
type Config struct {
	Bucket   string
	Prefix   string
	Capacity int
}

// Store keeps one JSON object per cache key. Creation time and TTL live in
// object metadata so expiry checks only stat the object; the payload is the
// aggregate result itself.
type Store struct {
	client   *storage.Client
	bucket   string
	prefix   string
	capacity int
	clock    search.Clock
}

// New creates a GCS-backed Store and verifies the bucket is reachable.
// Authentication uses Application Default Credentials unless overridden
// through opts.
func New(ctx context.Context, cfg Config, clock search.Clock, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := NewWithClient(client, cfg, clock)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("stat bucket %q: %w", cfg.Bucket, err)
	}
	return store, nil
}

// NewWithClient constructs a Store from an existing client (primarily for
// testing).
func NewWithClient(client *storage.Client, cfg Config, clock search.Clock) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		capacity: cfg.Capacity,
		clock:    clock,
	}, nil
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key + ".json"
	}
	return s.prefix + "/" + key + ".json"
}

// Get stats the object for key, deletes it when expired, and otherwise
// downloads and decodes the payload.
func (s *Store) Get(ctx context.Context, key string) (search.CacheEntry, bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(key))
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return search.CacheEntry{}, false, nil
	}
	if err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("stat cache object: %w", err)
	}

	entry, err := entryFromMetadata(key, attrs.Metadata)
	if err != nil {
		return search.CacheEntry{}, false, err
	}
	if entry.Expired(s.clock.Now()) {
		if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return search.CacheEntry{}, false, fmt.Errorf("delete expired cache object: %w", err)
		}
		return search.CacheEntry{}, false, nil
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("open cache object: %w", err)
	}
	defer reader.Close() //nolint:errcheck // best-effort close after full read
	payload, err := io.ReadAll(reader)
	if err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("read cache object: %w", err)
	}
	if err := json.Unmarshal(payload, &entry.Result); err != nil {
		return search.CacheEntry{}, false, fmt.Errorf("decode cache payload: %w", err)
	}
	return entry, true, nil
}

// Put uploads entry as a JSON object. New keys are rejected with
// search.ErrCacheCapacity once the prefix already holds capacity objects;
// overwrites of existing keys always succeed.
func (s *Store) Put(ctx context.Context, entry search.CacheEntry) error {
	obj := s.client.Bucket(s.bucket).Object(s.objectName(entry.Key))
	_, err := obj.Attrs(ctx)
	switch {
	case err == nil:
		// Existing key, overwrite is always allowed.
	case errors.Is(err, storage.ErrObjectNotExist):
		count, err := s.count(ctx)
		if err != nil {
			return err
		}
		if count >= s.capacity {
			return fmt.Errorf("store %q: %w", entry.Key, search.ErrCacheCapacity)
		}
	default:
		return fmt.Errorf("stat cache object: %w", err)
	}

	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		metaCreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaTTL:       strconv.FormatInt(int64(entry.TTL), 10),
	}
	if _, err := writer.Write(payload); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write cache object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write cache object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close cache writer: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close(context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}

func (s *Store) count(ctx context.Context) (int, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	count := 0
	for {
		_, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("list cache objects: %w", err)
		}
		count++
	}
}

func entryFromMetadata(key string, meta map[string]string) (search.CacheEntry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	if err != nil {
		return search.CacheEntry{}, fmt.Errorf("parse %s metadata: %w", metaCreatedAt, err)
	}
	ttlNS, err := strconv.ParseInt(meta[metaTTL], 10, 64)
	if err != nil {
		return search.CacheEntry{}, fmt.Errorf("parse %s metadata: %w", metaTTL, err)
	}
	return search.CacheEntry{
		Key:       key,
		CreatedAt: createdAt,
		TTL:       time.Duration(ttlNS),
	}, nil
}
