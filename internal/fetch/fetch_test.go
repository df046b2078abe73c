package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai/libchai/driver"
)

func tgz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(body)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTarball(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	body := tgz(t, map[string]string{
		"data/crates.csv": "id,name\n1,serde\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("etag", `"v1"`)
		w.Write(body)
	}))
	defer srv.Close()

	f := New(t.TempDir(), WithClient(srv.Client()))
	dir, fp, err := f.Tarball(ctx, "crates", srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fp, driver.Fingerprint(`"v1"`); got != want {
		t.Errorf("got fingerprint %q, want %q", got, want)
	}
	b, err := os.ReadFile(filepath.Join(dir, "data", "crates.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "id,name\n1,serde\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	latest, err := f.Latest("crates")
	if err != nil {
		t.Fatal(err)
	}
	if latest != dir {
		t.Errorf("latest points at %q, want %q", latest, dir)
	}
}

func TestUnchanged(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("if-none-match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("etag", `"v1"`)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), WithClient(srv.Client()))
	if _, _, err := f.File(ctx, "homebrew", srv.URL, "formula.json", ""); err != nil {
		t.Fatal(err)
	}
	_, fp, err := f.File(ctx, "homebrew", srv.URL, "formula.json", `"v1"`)
	if !errors.Is(err, driver.Unchanged) {
		t.Fatalf("got error %v, want Unchanged", err)
	}
	if got, want := fp, driver.Fingerprint(`"v1"`); got != want {
		t.Errorf("got fingerprint %q, want %q", got, want)
	}
}

func TestGZip(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("Package: jq\n"))
	gz.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := New(t.TempDir(), WithClient(srv.Client()))
	dir, _, err := f.GZip(ctx, "debian", srv.URL, "Packages", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "Packages"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "Package: jq\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGZipSet(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	gzBody := func(s string) []byte {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(s))
		gz.Close()
		return buf.Bytes()
	}
	sources := gzBody("Package: acl\n")
	packages := gzBody("Package: libacl1\n")
	mux := http.NewServeMux()
	mux.HandleFunc("/Sources.gz", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("if-none-match") == `"s1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("etag", `"s1"`)
		w.Write(sources)
	})
	pkgTag := `"p1"`
	mux.HandleFunc("/Packages.gz", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("if-none-match") == pkgTag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("etag", pkgTag)
		w.Write(packages)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	f := New(t.TempDir(), WithClient(srv.Client()), WithClock(func() time.Time { return now }))
	remotes := []Remote{
		{Name: "Sources", URL: srv.URL + "/Sources.gz"},
		{Name: "Packages", URL: srv.URL + "/Packages.gz"},
	}
	dir, fp, err := f.GZipSet(ctx, "debian", remotes, "")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fp, driver.Fingerprint("\"s1\"\n\"p1\""); got != want {
		t.Errorf("got fingerprint %q, want %q", got, want)
	}
	for name, want := range map[string]string{"Sources": "Package: acl\n", "Packages": "Package: libacl1\n"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != want {
			t.Errorf("%s: got %q, want %q", name, b, want)
		}
	}

	// Neither remote changed.
	now = now.Add(time.Hour)
	if _, _, err := f.GZipSet(ctx, "debian", remotes, fp); !errors.Is(err, driver.Unchanged) {
		t.Fatalf("got error %v, want Unchanged", err)
	}

	// One remote changed; the other is carried over from the previous
	// snapshot.
	packages = gzBody("Package: libacl1\nVersion: 2\n")
	pkgTag = `"p2"`
	now = now.Add(time.Hour)
	dir2, fp2, err := f.GZipSet(ctx, "debian", remotes, fp)
	if err != nil {
		t.Fatal(err)
	}
	if dir2 == dir {
		t.Fatal("snapshot directories collide")
	}
	if got, want := fp2, driver.Fingerprint("\"s1\"\n\"p2\""); got != want {
		t.Errorf("got fingerprint %q, want %q", got, want)
	}
	b, err := os.ReadFile(filepath.Join(dir2, "Sources"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "Package: acl\n"; got != want {
		t.Errorf("carried-over Sources: got %q, want %q", got, want)
	}
}

func TestLatestFlips(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	f := New(t.TempDir(), WithClient(srv.Client()), WithClock(func() time.Time { return now }))
	first, _, err := f.File(ctx, "homebrew", srv.URL, "formula.json", "")
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	second, _, err := f.File(ctx, "homebrew", srv.URL, "formula.json", "")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("snapshot directories collide")
	}
	latest, err := f.Latest("homebrew")
	if err != nil {
		t.Fatal(err)
	}
	if latest != second {
		t.Errorf("latest points at %q, want %q", latest, second)
	}
}

func TestCleanup(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), WithClient(srv.Client()))
	dir, _, err := f.File(ctx, "homebrew", srv.URL, "formula.json", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Cleanup("homebrew", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("snapshot dir survived cleanup: %v", err)
	}
	if _, err := f.Latest("homebrew"); err == nil {
		t.Error("latest still resolves after cleanup")
	}
}

func TestTraversalRefused(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	body := tgz(t, map[string]string{
		"../escape": "nope",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	root := t.TempDir()
	f := New(root, WithClient(srv.Client()))
	if _, _, err := f.Tarball(ctx, "crates", srv.URL, ""); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := os.Stat(filepath.Join(root, "escape")); !errors.Is(err, os.ErrNotExist) {
		t.Error("archive escaped the extraction root")
	}
}
