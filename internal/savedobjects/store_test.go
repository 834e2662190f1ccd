package savedobjects_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ubuntu/anomaly-explorer/internal/database"
)

// memStore is an in-memory Store behaving like the database.
type memStore struct {
	mu      sync.Mutex
	objects map[database.ObjectKey]database.StoredObject

	listErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[database.ObjectKey]database.StoredObject)}
}

func (s *memStore) GetObject(_ context.Context, key database.ObjectKey) (database.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.objects[key]
	if !ok {
		return database.StoredObject{}, database.ErrNotFound
	}
	return o, nil
}

func (s *memStore) InsertObject(_ context.Context, key database.ObjectKey, doc []byte, updatedAt time.Time, overwrite bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(1)
	if o, ok := s.objects[key]; ok {
		if !overwrite {
			return 0, database.ErrConflict
		}
		version = o.Version + 1
	}
	s.objects[key] = database.StoredObject{ID: key.ID, Type: key.Type, Namespace: key.Namespace, Doc: doc, UpdatedAt: updatedAt, Version: version}
	return version, nil
}

func (s *memStore) UpdateObject(_ context.Context, key database.ObjectKey, doc []byte, updatedAt time.Time, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.objects[key]
	if !ok {
		return 0, database.ErrNotFound
	}
	if version != 0 && o.Version != version {
		return 0, database.ErrConflict
	}
	o.Doc, o.UpdatedAt, o.Version = doc, updatedAt, o.Version+1
	s.objects[key] = o
	return o.Version, nil
}

func (s *memStore) DeleteObject(_ context.Context, key database.ObjectKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return database.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *memStore) ListObjects(_ context.Context, types []string) ([]database.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}

	var objs []database.StoredObject
	for k, o := range s.objects {
		if slices.Contains(types, k.Type) {
			objs = append(objs, o)
		}
	}
	slices.SortFunc(objs, func(a, b database.StoredObject) int {
		return strings.Compare(a.Type+"\x00"+a.ID+"\x00"+a.Namespace, b.Type+"\x00"+b.ID+"\x00"+b.Namespace)
	})
	return objs, nil
}
