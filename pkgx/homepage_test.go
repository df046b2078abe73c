package pkgx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/teaxyz/chai"
)

type fakeSearcher struct {
	urls map[string][]string
}

func (f *fakeSearcher) PackageManager(_ context.Context, name string) (chai.PackageManager, error) {
	return chai.PackageManager{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)), Name: name}, nil
}

func (f *fakeSearcher) SearchNames(_ context.Context, names []string, _ []uuid.UUID) ([]string, error) {
	var out []string
	for _, n := range names {
		out = append(out, f.urls[n]...)
	}
	return out, nil
}

func TestResolverPrefersStore(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := &fakeSearcher{urls: map[string][]string{
		"gettext": {"https://gnu.org/software/gettext"},
	}}
	r := NewResolver(store, WithAPI("http://127.0.0.1:0/%s.json"))

	hp, err := r.Homepage(ctx, "gnu.org/gettext")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := hp, "https://gnu.org/software/gettext"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolverAsksAPI(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pkgs/gnu.org/gettext.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"homepage":"https://www.gnu.org/software/gettext/"}`))
	}))
	defer srv.Close()

	r := NewResolver(&fakeSearcher{}, WithClient(srv.Client()),
		WithAPI(srv.URL+"/pkgs/%s.json"),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	hp, err := r.Homepage(ctx, "gnu.org/gettext")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := hp, "https://www.gnu.org/software/gettext/"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolverFallsBack(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewResolver(&fakeSearcher{}, WithClient(srv.Client()),
		WithAPI(srv.URL+"/pkgs/%s.json"),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	hp, err := r.Homepage(ctx, "crates.io/serde")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := hp, "https://crates.io/crates/serde"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
