package archive

import (
	"context"

	"github.com/italolelis/dgi_archiver/internal/telemetry"
)

// InstrumentedStore wraps a Store with telemetry.
type InstrumentedStore struct {
	store     Store
	telemetry *telemetry.Telemetry
	backend   string
}

// NewInstrumentedStore creates a new instrumented store.
func NewInstrumentedStore(store Store, tel *telemetry.Telemetry, backend string) *InstrumentedStore {
	return &InstrumentedStore{
		store:     store,
		telemetry: tel,
		backend:   backend,
	}
}

// Ping checks the destination with telemetry.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.backend, "ping", func(ctx context.Context) error {
		return s.store.Ping(ctx)
	})
}

// List lists the destination with telemetry.
func (s *InstrumentedStore) List(ctx context.Context) ([]StoredFile, error) {
	var result []StoredFile

	err := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "list", func(ctx context.Context) error {
		var err error

		result, err = s.store.List(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Find looks a file up by name with telemetry.
func (s *InstrumentedStore) Find(ctx context.Context, name string) ([]StoredFile, error) {
	var result []StoredFile

	err := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "find", func(ctx context.Context) error {
		var err error

		result, err = s.store.Find(ctx, name)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Upload uploads a file with telemetry.
func (s *InstrumentedStore) Upload(ctx context.Context, name, path string, meta Metadata) (*StoredFile, error) {
	var result *StoredFile

	err := s.telemetry.InstrumentStoreOperation(ctx, s.backend, "upload", func(ctx context.Context) error {
		var err error

		result, err = s.store.Upload(ctx, name, path, meta)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete deletes a file with telemetry.
func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.backend, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
}

var _ Store = (*InstrumentedStore)(nil)
