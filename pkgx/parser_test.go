package pkgx

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

func TestParse(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	u := NewUpdater(nil, WithLocalDir("testdata/pantry"))

	dir, _, err := u.Fetch(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err := u.Parse(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	// zlib.net carries a vendored warning and is skipped.
	if got, want := len(snapshot), 2; got != want {
		t.Fatalf("got %d packages, want %d", got, want)
	}

	rg := snapshot[0]
	if got, want := rg.ImportID, "crates.io/ripgrep"; got != want {
		t.Fatalf("got import id %q, want %q", got, want)
	}
	// Without a resolver the static rules run: crates.io projects link to
	// their crate page. The forge tarball doubles as the repository.
	wantURLs := map[chai.URLKind][]string{
		chai.HomepageKind:   {"https://crates.io/crates/ripgrep"},
		chai.SourceKind:     {"https://github.com/BurntSushi/ripgrep/archive/refs/tags/14.1.0.tar.gz"},
		chai.RepositoryKind: {"https://github.com/BurntSushi/ripgrep/archive/refs/tags/14.1.0.tar.gz"},
	}
	if !cmp.Equal(rg.URLs, wantURLs) {
		t.Error(cmp.Diff(rg.URLs, wantURLs))
	}
	wantDeps := []chai.NormalizedDependency{
		{ImportID: "rust-lang.org", Kind: chai.RuntimeKind, SemverRange: ">=1.70"},
	}
	if !cmp.Equal(rg.Dependencies, wantDeps) {
		t.Error(cmp.Diff(rg.Dependencies, wantDeps))
	}

	curl := snapshot[1]
	if got, want := curl.ImportID, "curl.se"; got != want {
		t.Fatalf("got import id %q, want %q", got, want)
	}
	// A slashless project is named after its homepage.
	wantURLs = map[chai.URLKind][]string{
		chai.HomepageKind: {"curl.se"},
		chai.SourceKind:   {"https://curl.se/download/curl-8.6.0.tar.gz"},
	}
	if !cmp.Equal(curl.URLs, wantURLs) {
		t.Error(cmp.Diff(curl.URLs, wantURLs))
	}
	// Platform blocks flatten into the runtime list.
	wantDeps = []chai.NormalizedDependency{
		{ImportID: "openssl.org", Kind: chai.RuntimeKind, SemverRange: "^3"},
		{ImportID: "gnu.org/gettext", Kind: chai.RuntimeKind, SemverRange: "*"},
		{ImportID: "gnu.org/make", Kind: chai.BuildKind, SemverRange: "*"},
		{ImportID: "curl.se/ca-certs", Kind: chai.TestKind, SemverRange: "*"},
	}
	if !cmp.Equal(curl.Dependencies, wantDeps) {
		t.Error(cmp.Diff(curl.Dependencies, wantDeps))
	}
}

func TestSpecialCase(t *testing.T) {
	tt := []struct {
		In   string
		Want string
	}{
		{"elementsproject.org", "elementsproject.org"},
		{"github.com/cli/cli", "github.com/cli/cli"},
		{"crates.io/ripgrep", "https://crates.io/crates/ripgrep"},
		{"x.org/xcb", "https://x.org"},
		{"pkgx.sh/mash", "https://github.com/pkgxdev/mash"},
		{"python.org/typing_extensions", "https://github.com/python/typing_extensions"},
		{"thrysoee.dk/editline", "https://thrysoee.dk/editline"},
		{"veracode.com/gen-ir", "https://github.com/veracode/gen-ir"},
		{"gnu.org/gettext", ""},
	}
	for _, tc := range tt {
		if got := specialCase(tc.In); got != tc.Want {
			t.Errorf("specialCase(%q) = %q, want %q", tc.In, got, tc.Want)
		}
	}
}

func TestUpdaterIdentity(t *testing.T) {
	u := NewUpdater(nil)
	if got, want := u.Name(), "pkgx"; got != want {
		t.Errorf("got name %q, want %q", got, want)
	}
	if !u.Authoritative() {
		t.Error("pkgx must be authoritative")
	}
}
