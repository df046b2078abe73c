package debian

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

func TestParse(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	u := NewUpdater(nil, WithLocalDir("testdata/index"))

	dir, _, err := u.Fetch(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err := u.Parse(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(snapshot), 3; got != want {
		t.Fatalf("got %d packages, want %d", got, want)
	}

	byID := make(map[string]chai.NormalizedPackage, len(snapshot))
	for _, p := range snapshot {
		byID[p.ImportID] = p
	}

	cu := byID["coreutils"]
	// Two stanzas exist for coreutils; the 9.4-3 one wins.
	wantURLs := map[chai.URLKind][]string{
		chai.HomepageKind:   {"https://gnu.org/software/coreutils/"},
		chai.RepositoryKind: {"https://salsa.debian.org/debian/coreutils"},
		chai.SourceKind:     {"https://salsa.debian.org/debian/coreutils.git"},
	}
	if !cmp.Equal(cu.URLs, wantURLs) {
		t.Error(cmp.Diff(cu.URLs, wantURLs))
	}
	if got, want := cu.Readme, "GNU core utilities"; got != want {
		t.Errorf("got readme %q, want %q", got, want)
	}
	wantUsers := []chai.NormalizedUser{
		{Username: "Michael Stone", ImportID: "mstone@debian.org", Source: "debian"},
	}
	if !cmp.Equal(cu.Users, wantUsers) {
		t.Error(cmp.Diff(cu.Users, wantUsers))
	}
	// Build-Depends stay at source granularity; binary Depends resolve to
	// source names, and libc6 has no stanza in the index so it is dropped.
	wantDeps := []chai.NormalizedDependency{
		{ImportID: "debhelper-compat", Kind: chai.BuildKind, SemverRange: "= 13"},
		{ImportID: "gettext", Kind: chai.BuildKind},
		{ImportID: "acl", Kind: chai.RuntimeKind, SemverRange: ">= 2.2.23"},
		{ImportID: "attr", Kind: chai.RuntimeKind, SemverRange: ">= 1:2.4.44"},
	}
	if !cmp.Equal(cu.Dependencies, wantDeps) {
		t.Error(cmp.Diff(cu.Dependencies, wantDeps))
	}

	acl := byID["acl"]
	// Sibling-binary edges collapse to self and are skipped.
	wantDeps = []chai.NormalizedDependency{
		{ImportID: "autoconf", Kind: chai.BuildKind},
		{ImportID: "gettext", Kind: chai.BuildKind},
		{ImportID: "attr", Kind: chai.RuntimeKind, SemverRange: ">= 1:2.4.44"},
	}
	if !cmp.Equal(acl.Dependencies, wantDeps) {
		t.Error(cmp.Diff(acl.Dependencies, wantDeps))
	}
	if got, want := acl.Readme, "access control list - utilities"; got != want {
		t.Errorf("got readme %q, want %q", got, want)
	}

	attr := byID["attr"]
	wantDeps = []chai.NormalizedDependency{
		{ImportID: "libtool", Kind: chai.BuildKind},
		{ImportID: "acl", Kind: chai.RecommendedKind},
		{ImportID: "coreutils", Kind: chai.OptionalKind},
	}
	if !cmp.Equal(attr.Dependencies, wantDeps) {
		t.Error(cmp.Diff(attr.Dependencies, wantDeps))
	}
	wantUsers = []chai.NormalizedUser{
		{Username: "Debian QA Group", ImportID: "packages@qa.debian.org", Source: "debian"},
	}
	if !cmp.Equal(attr.Users, wantUsers) {
		t.Error(cmp.Diff(attr.Users, wantUsers))
	}
}

func TestRelations(t *testing.T) {
	tt := []struct {
		In   string
		Want []relation
	}{
		{In: "", Want: nil},
		{In: "libc6 (>= 2.34)", Want: []relation{{"libc6", ">= 2.34"}}},
		{
			In:   "debhelper-compat (= 13), gettext",
			Want: []relation{{"debhelper-compat", "= 13"}, {"gettext", ""}},
		},
		{
			// Only the first alternative counts.
			In:   "default-mta | mail-transport-agent, perl:any",
			Want: []relation{{"default-mta", ""}, {"perl", ""}},
		},
		{
			In:   "libfoo-dev (>= 1.2) [amd64] <!nocheck>",
			Want: []relation{{"libfoo-dev", ">= 1.2"}},
		},
	}
	for _, tc := range tt {
		got := relations(tc.In)
		if !cmp.Equal(got, tc.Want, cmp.AllowUnexported(relation{})) {
			t.Errorf("%q: %s", tc.In, cmp.Diff(got, tc.Want, cmp.AllowUnexported(relation{})))
		}
	}
}

func TestNewer(t *testing.T) {
	tt := []struct {
		A, B string
		Want bool
	}{
		{"9.4-3", "9.1-1", true},
		{"9.1-1", "9.4-3", false},
		{"1:2.5.1-4", "2.5.1-4", true},
		{"not a version", "1.0", false},
	}
	for _, tc := range tt {
		if got := newer(tc.A, tc.B); got != tc.Want {
			t.Errorf("newer(%q, %q) = %v, want %v", tc.A, tc.B, got, tc.Want)
		}
	}
}

func TestUpdaterIdentity(t *testing.T) {
	u := NewUpdater(nil)
	if got, want := u.Name(), "debian"; got != want {
		t.Errorf("got name %q, want %q", got, want)
	}
	if u.Authoritative() {
		t.Error("debian must not be authoritative")
	}
}
