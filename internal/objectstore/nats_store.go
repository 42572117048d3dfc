// Package objectstore provides a NATS JetStream implementation of the
// core.ObjectStore contract. The pipeline keeps page text and synthesized
// audio in object store buckets rather than in message payloads.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrObjectNotFound indicates the requested key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Store implements core.ObjectStore on a single JetStream bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket if it does not exist, or binds to it if it does.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Store, error) {
	objectStore, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Voice clone artifacts for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		objectStore, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &Store{
		bucket: bucketName,
		store:  objectStore,
	}, nil
}

// Download retrieves an object's bytes.
func (s *Store) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, s.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores an object under the given key, replacing any prior content.
func (s *Store) Upload(_ context.Context, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// DownloadText retrieves an object as a UTF-8 string. Page text is stored as
// plain bytes; this is a convenience for the worker path.
func (s *Store) DownloadText(ctx context.Context, key string) (string, error) {
	data, err := s.Download(ctx, key)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
