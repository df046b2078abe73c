package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/datastore"
)

type fakeStore struct {
	canons    map[string]chai.Canon
	assigned  map[uuid.UUID]uuid.UUID
	homepages []datastore.PackageHomepage
	applied   *chai.CanonDelta
}

func (f *fakeStore) Canons(context.Context) (map[string]chai.Canon, error) {
	if f.canons == nil {
		return map[string]chai.Canon{}, nil
	}
	return f.canons, nil
}

func (f *fakeStore) CanonPackages(context.Context) (map[uuid.UUID]uuid.UUID, error) {
	if f.assigned == nil {
		return map[uuid.UUID]uuid.UUID{}, nil
	}
	return f.assigned, nil
}

func (f *fakeStore) PackageHomepages(context.Context) ([]datastore.PackageHomepage, error) {
	return f.homepages, nil
}

func (f *fakeStore) ApplyDedupe(_ context.Context, delta *chai.CanonDelta) error {
	f.applied = delta
	// Mirror the writes so a re-run sees them.
	for _, c := range delta.NewCanons {
		f.canons[c.URL] = c
	}
	for _, cp := range delta.NewCanonPackages {
		f.assigned[cp.PackageID] = cp.CanonID
	}
	for _, m := range delta.Moves {
		f.assigned[m.PackageID] = m.CanonID
	}
	return nil
}

func homepage(pkg uuid.UUID, name, url string) datastore.PackageHomepage {
	return datastore.PackageHomepage{
		PackageID:   pkg,
		PackageName: name,
		URL:         chai.URL{ID: uuid.New(), URL: url},
	}
}

func TestSharedHomepageMerges(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	serde, cargoSerde := uuid.New(), uuid.New()
	store := &fakeStore{
		canons:   map[string]chai.Canon{},
		assigned: map[uuid.UUID]uuid.UUID{},
		homepages: []datastore.PackageHomepage{
			homepage(serde, "serde", "https://example.com/proj"),
			homepage(cargoSerde, "rust-serde", "https://example.com/proj"),
		},
	}

	delta, err := New(store).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(delta.NewCanons), 1; got != want {
		t.Fatalf("got %d new canons, want %d", got, want)
	}
	// The first contributor names the canon.
	if got, want := delta.NewCanons[0].Name, "serde"; got != want {
		t.Errorf("got canon name %q, want %q", got, want)
	}
	if got, want := len(delta.NewCanonPackages), 2; got != want {
		t.Fatalf("got %d new links, want %d", got, want)
	}
	for _, cp := range delta.NewCanonPackages {
		if cp.CanonID != delta.NewCanons[0].ID {
			t.Errorf("link %v points at canon %v, want %v", cp.PackageID, cp.CanonID, delta.NewCanons[0].ID)
		}
	}
}

func TestReassignment(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	pkg := uuid.New()
	oldCanon := chai.Canon{ID: uuid.New(), URL: "https://old.example", Name: "p"}
	store := &fakeStore{
		canons:   map[string]chai.Canon{oldCanon.URL: oldCanon},
		assigned: map[uuid.UUID]uuid.UUID{pkg: oldCanon.ID},
		homepages: []datastore.PackageHomepage{
			homepage(pkg, "p", "https://new.example"),
		},
	}

	delta, err := New(store).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(delta.NewCanons), 1; got != want {
		t.Fatalf("got %d new canons, want %d", got, want)
	}
	if got, want := len(delta.Moves), 1; got != want {
		t.Fatalf("got %d moves, want %d", got, want)
	}
	if got, want := delta.Moves[0].CanonID, delta.NewCanons[0].ID; got != want {
		t.Errorf("move points at %v, want %v", got, want)
	}
	// The abandoned canon is retained.
	if _, ok := store.canons[oldCanon.URL]; !ok {
		t.Error("old canon was dropped")
	}
}

func TestIdempotentRerun(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a, b := uuid.New(), uuid.New()
	store := &fakeStore{
		canons:   map[string]chai.Canon{},
		assigned: map[uuid.UUID]uuid.UUID{},
		homepages: []datastore.PackageHomepage{
			homepage(a, "a", "https://a.example"),
			homepage(b, "b", "https://a.example"),
		},
	}
	d := New(store)
	if _, err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	delta, err := d.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !delta.Empty() {
		t.Errorf("second run staged writes: %+v", delta)
	}
}

func TestNewestHomepageWins(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	pkg := uuid.New()
	store := &fakeStore{
		canons:   map[string]chai.Canon{},
		assigned: map[uuid.UUID]uuid.UUID{},
		// Rows arrive newest first per package.
		homepages: []datastore.PackageHomepage{
			homepage(pkg, "p", "https://new.example"),
			homepage(pkg, "p", "https://old.example"),
		},
	}

	delta, err := New(store).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(delta.NewCanons), 1; got != want {
		t.Fatalf("got %d new canons, want %d", got, want)
	}
	if got, want := delta.NewCanons[0].URL, "https://new.example"; got != want {
		t.Errorf("got canon url %q, want %q", got, want)
	}
}

func TestNonCanonicalRowsSkipped(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	pkg := uuid.New()
	store := &fakeStore{
		canons:   map[string]chai.Canon{},
		assigned: map[uuid.UUID]uuid.UUID{},
		homepages: []datastore.PackageHomepage{
			homepage(pkg, "p", "https://legacy.example/page/"),
			homepage(pkg, "p", "https://legacy.example/page"),
		},
	}

	delta, err := New(store).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(delta.NewCanons), 1; got != want {
		t.Fatalf("got %d new canons, want %d", got, want)
	}
	if got, want := delta.NewCanons[0].URL, "https://legacy.example/page"; got != want {
		t.Errorf("got canon url %q, want %q", got, want)
	}
}

func TestLoadDisabled(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	pkg := uuid.New()
	store := &fakeStore{
		canons:   map[string]chai.Canon{},
		assigned: map[uuid.UUID]uuid.UUID{},
		homepages: []datastore.PackageHomepage{
			homepage(pkg, "p", "https://p.example"),
		},
	}

	delta, err := New(store, WithLoad(false), WithClock(func() time.Time { return time.Unix(1700000000, 0) })).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if delta.Empty() {
		t.Fatal("expected a planned delta")
	}
	if store.applied != nil {
		t.Error("delta was applied with load disabled")
	}
}
