// Package fetch downloads and unpacks upstream artifacts into the on-disk
// layout pipelines expect.
//
// Every successful fetch lands in "<root>/<pm>/<timestamp>/" and the
// "<root>/<pm>/latest" symlink is flipped to it atomically; the flip is the
// commit point. A crashed fetch leaves a dangling timestamped directory that
// never becomes "latest".
package fetch

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/teaxyz/chai/libchai/driver"
)

// Fetcher materializes upstream artifacts under a data root.
type Fetcher struct {
	client *http.Client
	root   string
	now    func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the http client used for downloads.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithClock overrides the clock used to name snapshot directories.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New returns a Fetcher writing under root.
func New(root string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
		root:   root,
		now:    time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Latest reports the directory the pm's "latest" symlink points to.
// Pipelines running with fetching disabled reuse it as their snapshot.
func (f *Fetcher) Latest(pm string) (string, error) {
	dir, err := os.Readlink(filepath.Join(f.root, pm, "latest"))
	if err != nil {
		return "", fmt.Errorf("no previous fetch for %q: %w", pm, err)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(f.root, pm, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("previous fetch for %q is gone: %w", pm, err)
	}
	return dir, nil
}

// Cleanup removes a snapshot directory, fixing up "latest" if it pointed
// there. Used after a successful ingest when artifact caching is off.
func (f *Fetcher) Cleanup(pm, dir string) error {
	link := filepath.Join(f.root, pm, "latest")
	if target, err := os.Readlink(link); err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(f.root, pm, target)
		}
		if target == dir {
			if err := os.Remove(link); err != nil {
				return err
			}
		}
	}
	return os.RemoveAll(dir)
}

// Tarball downloads a gzip-compressed tarball and extracts it.
func (f *Fetcher) Tarball(ctx context.Context, pm, url string, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/fetch/Fetcher.Tarball", "url", url)
	dir, fp, err := f.download(ctx, pm, url, prev, func(dir string, r io.Reader) error {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("not a gzip stream: %w", err)
		}
		defer gz.Close()
		return untar(dir, gz)
	})
	if err != nil {
		return "", "", err
	}
	return dir, fp, nil
}

// GZip downloads a single gzip- or xz-compressed file and writes the
// decompressed content to name inside the snapshot directory.
func (f *Fetcher) GZip(ctx context.Context, pm, url, name string, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/fetch/Fetcher.GZip", "url", url)
	return f.download(ctx, pm, url, prev, func(dir string, r io.Reader) error {
		z, err := uncompressed(url, r)
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(dir, name), z)
	})
}

// Remote names one URL of a multi-file fetch and the file it lands in.
type Remote struct {
	Name string
	URL  string
}

// GZipSet downloads several compressed documents into a single snapshot
// directory. The fingerprint is the newline-joined entity tags of every
// remote, in order; the snapshot commits only when at least one remote
// changed, and unchanged remotes are carried over from the previous
// snapshot.
func (f *Fetcher) GZipSet(ctx context.Context, pm string, remotes []Remote, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/fetch/Fetcher.GZipSet")

	prevTags := strings.Split(string(prev), "\n")
	prevDir, err := f.Latest(pm)
	if len(prevTags) != len(remotes) || err != nil {
		// No usable previous snapshot; refetch everything.
		prevTags = make([]string, len(remotes))
		prevDir = ""
	}

	dir, err := f.snapshotDir(pm)
	if err != nil {
		return "", "", err
	}
	tags := make([]string, len(remotes))
	var changed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for i, rm := range remotes {
		i, rm := i, rm
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, rm.URL, nil)
			if err != nil {
				return err
			}
			if prevTags[i] != "" {
				req.Header.Set("if-none-match", prevTags[i])
			}
			resp, err := f.client.Do(req)
			if resp != nil {
				defer resp.Body.Close()
			}
			if err != nil {
				return fmt.Errorf("failed to retrieve %q: %w", rm.URL, err)
			}
			switch resp.StatusCode {
			case http.StatusOK:
			case http.StatusNotModified:
				tags[i] = prevTags[i]
				return copyFile(filepath.Join(dir, rm.Name), filepath.Join(prevDir, rm.Name))
			default:
				return fmt.Errorf("unexpected response from %q: %v", rm.URL, resp.Status)
			}
			changed.Store(true)
			tags[i] = resp.Header.Get("etag")
			z, err := uncompressed(rm.URL, resp.Body)
			if err != nil {
				return err
			}
			return writeFile(filepath.Join(dir, rm.Name), z)
		})
	}
	if err := g.Wait(); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	if !changed.Load() {
		os.RemoveAll(dir)
		return "", prev, driver.Unchanged
	}
	if err := f.commit(pm, dir); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	zlog.Info(ctx).Str("dir", dir).Msg("fetched upstream snapshot")
	return dir, driver.Fingerprint(strings.Join(tags, "\n")), nil
}

// File downloads a plain document to name inside the snapshot directory.
func (f *Fetcher) File(ctx context.Context, pm, url, name string, prev driver.Fingerprint) (string, driver.Fingerprint, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/fetch/Fetcher.File", "url", url)
	return f.download(ctx, pm, url, prev, func(dir string, r io.Reader) error {
		return writeFile(filepath.Join(dir, name), r)
	})
}

// download runs one HTTP GET with entity-tag revalidation, hands the body to
// extract inside a fresh snapshot directory, and commits it.
func (f *Fetcher) download(ctx context.Context, pm, url string, prev driver.Fingerprint, extract func(string, io.Reader) error) (string, driver.Fingerprint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	if prev != "" {
		req.Header.Set("if-none-match", string(prev))
	}
	resp, err := f.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to retrieve %q: %w", url, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return "", prev, driver.Unchanged
	default:
		return "", "", fmt.Errorf("unexpected response from %q: %v", url, resp.Status)
	}

	dir, err := f.snapshotDir(pm)
	if err != nil {
		return "", "", err
	}
	if err := extract(dir, resp.Body); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	if err := f.commit(pm, dir); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	zlog.Info(ctx).Str("dir", dir).Msg("fetched upstream snapshot")
	return dir, driver.Fingerprint(resp.Header.Get("etag")), nil
}

// snapshotDir creates a fresh timestamped directory for one fetch.
func (f *Fetcher) snapshotDir(pm string) (string, error) {
	ts := f.now().UTC().Format(time.RFC3339)
	dir := filepath.Join(f.root, pm, ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return dir, nil
}

// commit flips the "latest" symlink to dir. The rename makes the flip
// atomic on POSIX filesystems.
func (f *Fetcher) commit(pm, dir string) error {
	base := filepath.Join(f.root, pm)
	tmp := filepath.Join(base, ".latest.tmp")
	os.Remove(tmp)
	if err := os.Symlink(filepath.Base(dir), tmp); err != nil {
		return fmt.Errorf("failed to stage latest symlink: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(base, "latest")); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to flip latest symlink: %w", err)
	}
	return nil
}

// errTraversal is reported when an archive member would land outside the
// extraction root.
var errTraversal = errors.New("fetch: archive member escapes extraction root")

// untar extracts a tar stream under dir, refusing absolute names and parent
// escapes.
func untar(dir string, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("failed to read tar: %w", err)
		}
		name, err := safeJoin(dir, h.Name)
		if err != nil {
			return err
		}
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(name, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return err
			}
			if err := writeFile(name, tr); err != nil {
				return err
			}
		default:
			// Links and specials in upstream dumps are ignored.
		}
	}
}

func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", errTraversal, name)
	}
	out := filepath.Join(dir, name)
	if out != dir && !strings.HasPrefix(out, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errTraversal, name)
	}
	return out, nil
}

// uncompressed wraps r with the decompressor the URL's suffix calls for.
func uncompressed(url string, r io.Reader) (io.Reader, error) {
	if strings.HasSuffix(url, ".xz") {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("not an xz stream: %w", err)
		}
		return xr, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("not a gzip stream: %w", err)
	}
	return gz, nil
}

func copyFile(dst, src string) error {
	r, err := os.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeFile(dst, r)
}

func writeFile(name string, r io.Reader) error {
	w, err := os.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
