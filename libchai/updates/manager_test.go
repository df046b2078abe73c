package updates

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
	"github.com/teaxyz/chai/libchai/driver"
)

// fakeStore is an in-memory datastore.Ingester tracking what was written.
type fakeStore struct {
	mu       sync.Mutex
	pm       chai.PackageManager
	ingests  []*chai.Delta
	deleted  [][]string
	loads    int
	urlTypes map[chai.URLKind]uuid.UUID
	depTypes map[chai.DependencyKind]uuid.UUID
}

func newFakeStore(name string) *fakeStore {
	s := &fakeStore{
		pm:       chai.PackageManager{ID: uuid.New(), Name: name},
		urlTypes: make(map[chai.URLKind]uuid.UUID),
		depTypes: make(map[chai.DependencyKind]uuid.UUID),
	}
	for _, k := range chai.URLKinds {
		s.urlTypes[k] = uuid.New()
	}
	for _, k := range chai.DependencyKinds {
		s.depTypes[k] = uuid.New()
	}
	return s
}

func (s *fakeStore) PackageManager(_ context.Context, name string) (chai.PackageManager, error) {
	return s.pm, nil
}

func (s *fakeStore) URLTypes(context.Context) (map[chai.URLKind]uuid.UUID, error) {
	return s.urlTypes, nil
}

func (s *fakeStore) DependencyTypes(context.Context) (map[chai.DependencyKind]uuid.UUID, error) {
	return s.depTypes, nil
}

func (s *fakeStore) Source(_ context.Context, name string) (chai.Source, error) {
	return chai.Source{ID: uuid.New(), Name: name}, nil
}

func (s *fakeStore) CurrentGraph(context.Context, uuid.UUID) (*datastore.Graph, error) {
	return &datastore.Graph{
		Packages:     make(map[string]chai.Package),
		Dependencies: make(map[uuid.UUID][]chai.Dependency),
	}, nil
}

func (s *fakeStore) CurrentURLs(context.Context, uuid.UUID) (*datastore.URLSet, error) {
	return &datastore.URLSet{
		URLs:  make(map[chai.URLKey]chai.URL),
		Links: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}, nil
}

func (s *fakeStore) Ingest(_ context.Context, delta *chai.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingests = append(s.ingests, delta)
	return nil
}

func (s *fakeStore) DeletePackages(_ context.Context, _ uuid.UUID, importIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, importIDs)
	return int64(len(importIDs)), nil
}

func (s *fakeStore) RecordLoad(context.Context, uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return nil
}

func (s *fakeStore) SearchNames(context.Context, []string, []uuid.UUID) ([]string, error) {
	return nil, nil
}

// fakeUpdater serves a canned snapshot.
type fakeUpdater struct {
	name          string
	authoritative bool
	fp            driver.Fingerprint
	snapshot      []chai.NormalizedPackage
	fetches       atomic.Int64
	block         chan struct{}
}

func (u *fakeUpdater) Name() string        { return u.name }
func (u *fakeUpdater) Authoritative() bool { return u.authoritative }

func (u *fakeUpdater) Fetch(ctx context.Context, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	u.fetches.Add(1)
	if u.block != nil {
		<-u.block
	}
	if prev != "" && prev == u.fp {
		return "", prev, driver.Unchanged
	}
	return "fake", u.fp, nil
}

func (u *fakeUpdater) Parse(context.Context, string) ([]chai.NormalizedPackage, error) {
	return u.snapshot, nil
}

func TestRunOnce(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newFakeStore("crates")
	u := &fakeUpdater{
		name: "crates",
		fp:   "v1",
		snapshot: []chai.NormalizedPackage{
			{ImportID: "serde", Name: "serde"},
		},
	}
	m, err := NewManager(ctx, store, nil, nil, []driver.Updater{u})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := len(store.ingests), 1; got != want {
		t.Fatalf("got %d ingests, want %d", got, want)
	}
	if got, want := len(store.ingests[0].NewPackages), 1; got != want {
		t.Errorf("got %d new packages, want %d", got, want)
	}
	if got, want := store.loads, 1; got != want {
		t.Errorf("got %d load records, want %d", got, want)
	}
}

func TestUnchangedShortCircuits(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newFakeStore("crates")
	u := &fakeUpdater{name: "crates", fp: "v1"}
	m, err := NewManager(ctx, store, nil, nil, []driver.Updater{u})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	// The second run fetched, saw the fingerprint match, and stopped.
	if got, want := len(store.ingests), 1; got != want {
		t.Errorf("got %d ingests, want %d", got, want)
	}
	if got, want := store.loads, 1; got != want {
		t.Errorf("got %d load records, want %d", got, want)
	}
}

func TestDeletionGating(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	for _, authoritative := range []bool{true, false} {
		store := newFakeStore("x")
		// Preload one package the snapshot does not mention.
		pkgID := uuid.New()
		graph := &datastore.Graph{
			Packages: map[string]chai.Package{
				"gone": {ID: pkgID, ImportID: "gone", Name: "gone"},
			},
			Dependencies: make(map[uuid.UUID][]chai.Dependency),
		}
		s := &preloadedStore{fakeStore: store, graph: graph}
		u := &fakeUpdater{name: "x", authoritative: authoritative, fp: "v1"}
		m, err := NewManager(ctx, s, nil, nil, []driver.Updater{u})
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if authoritative {
			if got, want := len(store.deleted), 1; got != want {
				t.Fatalf("authoritative: got %d delete calls, want %d", got, want)
			}
			if got, want := store.deleted[0], []string{"gone"}; got[0] != want[0] {
				t.Errorf("authoritative: deleted %v, want %v", got, want)
			}
		} else if len(store.deleted) != 0 {
			t.Errorf("non-authoritative: unexpected deletions %v", store.deleted)
		}
	}
}

type preloadedStore struct {
	*fakeStore
	graph *datastore.Graph
}

func (s *preloadedStore) CurrentGraph(context.Context, uuid.UUID) (*datastore.Graph, error) {
	return s.graph, nil
}

func TestSingleFlight(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newFakeStore("crates")
	u := &fakeUpdater{
		name:  "crates",
		fp:    "v1",
		block: make(chan struct{}),
	}
	m, err := NewManager(ctx, store, nil, nil, []driver.Updater{u})
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- m.Run(ctx) }()
	// Wait until the first run holds the lock inside Fetch.
	for u.fetches.Load() == 0 {
		runtime.Gosched()
	}
	// A concurrent trigger is dropped, not queued.
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := u.fetches.Load(); got != 1 {
		t.Errorf("overlapping run fetched: %d fetches", got)
	}
	close(u.block)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if got, want := len(store.ingests), 1; got != want {
		t.Errorf("got %d ingests, want %d", got, want)
	}
}
