package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig names the object store buckets backing each namespace.
type JetStreamConfig struct {
	URL             string
	StagedBucket    string
	CommittedBucket string
}

// JetStreamAssetStore implements AssetStore using two NATS JetStream object store
// buckets. Promotion is a copy between buckets followed by removal of the staged object.
type JetStreamAssetStore struct {
	conn      *nats.Conn
	js        jetstream.JetStream
	staged    jetstream.ObjectStore
	committed jetstream.ObjectStore
	now       func() time.Time
	nextToken func() string
}

// NewJetStreamAssetStore connects to NATS and opens (or creates) both buckets.
func NewJetStreamAssetStore(ctx context.Context, cfg JetStreamConfig) (*JetStreamAssetStore, error) {
	if cfg.StagedBucket == "" || cfg.CommittedBucket == "" || cfg.StagedBucket == cfg.CommittedBucket {
		return nil, errors.New("staged and committed buckets must be set and differ")
	}

	gen, err := NewTokenGenerator()
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &JetStreamAssetStore{
		conn:      conn,
		js:        js,
		now:       time.Now,
		nextToken: gen,
	}

	if s.staged, err = openBucket(ctx, js, cfg.StagedBucket, "Staged product images"); err != nil {
		conn.Close()
		return nil, err
	}
	if s.committed, err = openBucket(ctx, js, cfg.CommittedBucket, "Committed product images"); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func openBucket(ctx context.Context, js jetstream.JetStream, bucket, description string) (jetstream.ObjectStore, error) {
	store, err := js.ObjectStore(ctx, bucket)
	if err == nil {
		return store, nil
	}

	store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store bucket %s: %w", bucket, err)
	}
	return store, nil
}

// Stage stores the upload in the staged bucket.
func (s *JetStreamAssetStore) Stage(ctx context.Context, r io.Reader, originalFilename string) (string, error) {
	name := StagedName(s.nextToken(), s.now(), originalFilename)

	meta := jetstream.ObjectMeta{
		Name: name,
		Headers: nats.Header{
			"Staged-At": []string{s.now().UTC().Format(time.RFC3339)},
		},
	}
	if _, err := s.staged.Put(ctx, meta, r); err != nil {
		return "", fmt.Errorf("%w: failed to store %s: %w", ErrAssetWrite, name, err)
	}

	return name, nil
}

// Discard removes a staged object if present.
func (s *JetStreamAssetStore) Discard(ctx context.Context, stagedName string) error {
	if err := ValidateName(stagedName); err != nil {
		return err
	}
	return deleteObject(ctx, s.staged, stagedName)
}

// Promote copies the staged object into the committed bucket and removes the original.
func (s *JetStreamAssetStore) Promote(ctx context.Context, stagedName, committedName string) error {
	if err := ValidateName(stagedName); err != nil {
		return err
	}
	if err := ValidateName(committedName); err != nil {
		return err
	}

	result, err := s.staged.Get(ctx, stagedName)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return fmt.Errorf("%w: staged %s", ErrAssetNotFound, stagedName)
		}
		return fmt.Errorf("failed to get staged object: %w", err)
	}
	defer result.Close()

	if _, err := s.committed.Put(ctx, jetstream.ObjectMeta{Name: committedName}, result); err != nil {
		return fmt.Errorf("%w: failed to store %s: %w", ErrAssetWrite, committedName, err)
	}

	if err := deleteObject(ctx, s.staged, stagedName); err != nil {
		_ = deleteObject(context.WithoutCancel(ctx), s.committed, committedName)
		return err
	}
	return nil
}

// Sweep removes staged objects created before cutoff.
func (s *JetStreamAssetStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	infos, err := s.staged.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list staged objects: %w", err)
	}

	var removed []string
	for _, info := range infos {
		created, ok := NameTime(info.Name)
		if !ok {
			created = info.ModTime
		}
		if !created.Before(cutoff) {
			continue
		}

		if err := deleteObject(ctx, s.staged, info.Name); err != nil {
			return removed, err
		}
		removed = append(removed, info.Name)
	}

	return removed, nil
}

// EnsureCommitted is satisfied once the bucket was opened.
func (s *JetStreamAssetStore) EnsureCommitted(ctx context.Context) error {
	if s.committed == nil {
		return fmt.Errorf("%w: committed bucket not initialized", ErrAssetWrite)
	}
	return nil
}

// Has reports whether a committed object exists.
func (s *JetStreamAssetStore) Has(ctx context.Context, committedName string) (bool, error) {
	if err := ValidateName(committedName); err != nil {
		return false, err
	}

	_, err := s.committed.GetInfo(ctx, committedName)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to get committed object info: %w", err)
}

// Delete removes a committed object if present.
func (s *JetStreamAssetStore) Delete(ctx context.Context, committedName string) error {
	if err := ValidateName(committedName); err != nil {
		return err
	}
	return deleteObject(ctx, s.committed, committedName)
}

// IsConnected returns whether the NATS connection is active.
func (s *JetStreamAssetStore) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close closes the NATS connection.
func (s *JetStreamAssetStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func deleteObject(ctx context.Context, store jetstream.ObjectStore, name string) error {
	if err := store.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object %s: %w", name, err)
	}
	return nil
}
