package homebrew

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

func TestParse(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	u := NewUpdater(nil, WithLocalDir("testdata"))

	dir, _, err := u.Fetch(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err := u.Parse(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	// The deprecated formula is skipped.
	if got, want := len(snapshot), 2; got != want {
		t.Fatalf("got %d packages, want %d", got, want)
	}

	byID := make(map[string]chai.NormalizedPackage, len(snapshot))
	for _, p := range snapshot {
		byID[p.ImportID] = p
	}
	if _, ok := byID["oldtool"]; ok {
		t.Error("deprecated formula not skipped")
	}

	jq := byID["jq"]
	if got, want := jq.Readme, "Lightweight and flexible command-line JSON processor"; got != want {
		t.Errorf("got readme %q, want %q", got, want)
	}
	// Head wins over stable, and a forge URL doubles as the repository.
	wantURLs := map[chai.URLKind][]string{
		chai.HomepageKind:   {"https://jqlang.github.io/jq/"},
		chai.SourceKind:     {"https://github.com/jqlang/jq.git"},
		chai.RepositoryKind: {"https://github.com/jqlang/jq.git"},
	}
	if !cmp.Equal(jq.URLs, wantURLs) {
		t.Error(cmp.Diff(jq.URLs, wantURLs))
	}
	wantDeps := []chai.NormalizedDependency{
		{ImportID: "oniguruma", Kind: chai.RuntimeKind},
		{ImportID: "autoconf", Kind: chai.BuildKind},
		{ImportID: "automake", Kind: chai.BuildKind},
	}
	if !cmp.Equal(jq.Dependencies, wantDeps) {
		t.Error(cmp.Diff(jq.Dependencies, wantDeps))
	}

	onig := byID["oniguruma"]
	// No head URL, so the stable tarball is the source; it is not a forge,
	// so no repository is recorded.
	wantURLs = map[chai.URLKind][]string{
		chai.HomepageKind: {"https://github.com/kkos/oniguruma"},
		chai.SourceKind:   {"https://example.org/dist/onig-6.9.9.tar.gz"},
	}
	if !cmp.Equal(onig.URLs, wantURLs) {
		t.Error(cmp.Diff(onig.URLs, wantURLs))
	}
	wantDeps = []chai.NormalizedDependency{
		{ImportID: "ruby", Kind: chai.RecommendedKind},
		{ImportID: "python", Kind: chai.OptionalKind},
		{ImportID: "zlib", Kind: chai.UsesFromMacosKind},
		{ImportID: "libxml2", Kind: chai.UsesFromMacosKind},
	}
	if !cmp.Equal(onig.Dependencies, wantDeps) {
		t.Error(cmp.Diff(onig.Dependencies, wantDeps))
	}
}

func TestUpdaterIdentity(t *testing.T) {
	u := NewUpdater(nil)
	if got, want := u.Name(), "homebrew"; got != want {
		t.Errorf("got name %q, want %q", got, want)
	}
	if u.Authoritative() {
		t.Error("homebrew must not be authoritative")
	}
}
