package pkgx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/teaxyz/chai"
	"github.com/teaxyz/chai/pkg/urlnorm"
)

// DefaultAPI is the pkgx.dev package endpoint; the import id slots into the
// path.
const DefaultAPI = `https://pkgx.dev/pkgs/%s.json`

// HomepageResolver resolves a pantry import id to a homepage URL. An empty
// string with a nil error means no homepage could be found.
type HomepageResolver interface {
	Homepage(ctx context.Context, importID string) (string, error)
}

// NameSearcher is the slice of the store the resolver needs: pantry import
// ids double as package names in other ecosystems, and a homepage already
// recorded there beats guessing.
type NameSearcher interface {
	PackageManager(ctx context.Context, name string) (chai.PackageManager, error)
	SearchNames(ctx context.Context, names []string, pms []uuid.UUID) ([]string, error)
}

// Resolver resolves homepages by, in order: searching debian and homebrew
// for a package of the same name, asking the pkgx.dev API, and falling back
// to static naming rules.
type Resolver struct {
	store   NameSearcher
	client  *http.Client
	limiter *rate.Limiter
	api     string

	once sync.Once
	pms  []uuid.UUID
	err  error
}

var _ HomepageResolver = (*Resolver)(nil)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClient sets the http client used for API lookups.
func WithClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithAPI overrides the pkgx.dev endpoint format.
func WithAPI(format string) ResolverOption {
	return func(r *Resolver) { r.api = format }
}

// WithLimiter overrides the API rate limiter.
func WithLimiter(l *rate.Limiter) ResolverOption {
	return func(r *Resolver) { r.limiter = l }
}

// NewResolver returns a Resolver searching store before asking pkgx.dev.
func NewResolver(store NameSearcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:   store,
		client:  http.DefaultClient,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		api:     DefaultAPI,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// similar reports the package managers whose names are worth searching.
func (r *Resolver) similar(ctx context.Context) ([]uuid.UUID, error) {
	r.once.Do(func() {
		for _, name := range []string{"debian", "homebrew"} {
			pm, err := r.store.PackageManager(ctx, name)
			if err != nil {
				r.err = err
				return
			}
			r.pms = append(r.pms, pm.ID)
		}
	})
	return r.pms, r.err
}

// Homepage implements HomepageResolver.
func (r *Resolver) Homepage(ctx context.Context, importID string) (string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pkgx/Resolver.Homepage", "import_id", importID)

	if names := urlnorm.PossibleNames(importID); len(names) != 0 {
		pms, err := r.similar(ctx)
		if err != nil {
			return "", err
		}
		urls, err := r.store.SearchNames(ctx, names, pms)
		if err != nil {
			return "", err
		}
		if len(urls) != 0 {
			return urls[0], nil
		}
	}

	if hp, err := r.ask(ctx, importID); err != nil {
		// The API is best-effort; a miss falls through to the static rules.
		zlog.Debug(ctx).Err(err).Msg("homepage lookup failed")
	} else if hp != "" {
		return hp, nil
	}

	return specialCase(importID), nil
}

// ask queries the pkgx.dev endpoint for the project's homepage.
func (r *Resolver) ask(ctx context.Context, importID string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.api, importID), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected response: %v", resp.Status)
	}
	var body struct {
		Homepage string `json:"homepage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Homepage, nil
}

// specialCase derives a homepage from the import id alone. Pantry naming
// conventions make several families resolvable without any lookup.
func specialCase(importID string) string {
	slashes := strings.Count(importID, "/")
	switch {
	// No slash: the project is named after its homepage. Two or more: the
	// id is already a forge path.
	case slashes == 0 || slashes >= 2:
		return importID
	case strings.HasPrefix(importID, "crates.io/"):
		_, name, _ := strings.Cut(importID, "/")
		return "https://crates.io/crates/" + name
	case strings.HasPrefix(importID, "x.org/"):
		return "https://x.org"
	case strings.HasPrefix(importID, "pkgx.sh/"):
		_, tool, _ := strings.Cut(importID, "/")
		return "https://github.com/pkgxdev/" + tool
	case importID == "python.org/typing_extensions":
		return "https://github.com/python/typing_extensions"
	case importID == "thrysoee.dk/editline":
		return "https://thrysoee.dk/editline"
	case importID == "veracode.com/gen-ir":
		return "https://github.com/veracode/gen-ir"
	}
	return ""
}
