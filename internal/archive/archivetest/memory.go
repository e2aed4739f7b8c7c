// Package archivetest provides an in-memory archive.Store for tests.
package archivetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/italolelis/dgi_archiver/internal/archive"
)

// Store is an in-memory archive.Store. Errors can be injected per operation.
type Store struct {
	mu     sync.Mutex
	files  map[string]archive.StoredFile
	data   map[string][]byte
	nextID int

	Now func() time.Time

	PingErr   error
	ListErr   error
	FindErr   error
	UploadErr error
	DeleteErr map[string]error

	Uploads int
	Deletes []string
}

func NewStore() *Store {
	return &Store{
		files:     make(map[string]archive.StoredFile),
		data:      make(map[string][]byte),
		DeleteErr: make(map[string]error),
		Now:       time.Now,
	}
}

// Put seeds the store with a file and returns its id.
func (s *Store) Put(name string, size int64, uploadedAt time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("file-%d", s.nextID)
	s.files[id] = archive.StoredFile{ID: id, Name: name, Size: size, UploadedAt: uploadedAt}

	return id
}

// Names returns the sorted names of every stored file.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.files))
	for _, f := range s.files {
		names = append(names, f.Name)
	}

	sort.Strings(names)

	return names
}

// Content returns the uploaded bytes of the file with the given name.
func (s *Store) Content(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.files {
		if f.Name == name {
			return s.data[id]
		}
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingErr
}

func (s *Store) List(ctx context.Context) ([]archive.StoredFile, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]archive.StoredFile, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	return files, nil
}

func (s *Store) Find(ctx context.Context, name string) ([]archive.StoredFile, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var found []archive.StoredFile
	for _, f := range s.files {
		if f.Name == name {
			found = append(found, f)
		}
	}

	return found, nil
}

func (s *Store) Upload(ctx context.Context, name, path string, meta archive.Metadata) (*archive.StoredFile, error) {
	if s.UploadErr != nil {
		return nil, s.UploadErr
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("file-%d", s.nextID)
	f := archive.StoredFile{
		ID:         id,
		Name:       name,
		Size:       int64(len(content)),
		UploadedAt: s.Now(),
		Checksum:   meta.Checksum,
	}

	s.files[id] = f
	s.data[id] = content
	s.Uploads++

	return &f, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.DeleteErr[id]; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s not found", id)
	}

	delete(s.files, id)
	delete(s.data, id)
	s.Deletes = append(s.Deletes, id)

	return nil
}

var _ archive.Store = (*Store)(nil)
