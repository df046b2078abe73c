package debian

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	version "github.com/knqyf263/go-deb-version"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

// source is one Sources stanza, reduced to the fields CHAI reads.
type source struct {
	Name         string
	Version      string
	Binaries     []string
	Homepage     string
	VcsBrowser   string
	VcsGit       string
	BuildDepends string
	Maintainer   string
}

// binary is one Packages stanza.
type binary struct {
	Source      string
	Description string
	Depends     string
	Recommends  string
	Suggests    string
}

// Parse implements driver.Updater.
//
// Sources is the primary record. Binary stanzas contribute descriptions and
// the Depends/Recommends/Suggests graph, with every binary name resolved
// back to its source package.
func (u *Updater) Parse(ctx context.Context, dir string) ([]chai.NormalizedPackage, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "debian/Updater.Parse")

	sources := make(map[string]*source)
	err := eachStanza(filepath.Join(dir, sourcesFile), func(hdr textproto.MIMEHeader) error {
		name := hdr.Get("Package")
		if name == "" {
			return nil
		}
		s := &source{
			Name:         name,
			Version:      hdr.Get("Version"),
			Homepage:     hdr.Get("Homepage"),
			VcsBrowser:   hdr.Get("Vcs-Browser"),
			VcsGit:       hdr.Get("Vcs-Git"),
			BuildDepends: hdr.Get("Build-Depends"),
			Maintainer:   hdr.Get("Maintainer"),
		}
		for _, b := range strings.Split(hdr.Get("Binary"), ",") {
			if b = strings.TrimSpace(b); b != "" {
				s.Binaries = append(s.Binaries, b)
			}
		}
		if prev, ok := sources[name]; ok && !newer(s.Version, prev.Version) {
			return nil
		}
		sources[name] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("count", len(sources)).Msg("parsed source stanzas")

	binaries := make(map[string]*binary)
	binToSrc := make(map[string]string)
	err = eachStanza(filepath.Join(dir, packagesFile), func(hdr textproto.MIMEHeader) error {
		name := hdr.Get("Package")
		if name == "" {
			return nil
		}
		// "Source: src (1.2-3)"; absent when the source shares the name.
		src := name
		if f := strings.Fields(hdr.Get("Source")); len(f) > 0 {
			src = f[0]
		}
		binaries[name] = &binary{
			Source:      src,
			Description: hdr.Get("Description"),
			Depends:     hdr.Get("Depends"),
			Recommends:  hdr.Get("Recommends"),
			Suggests:    hdr.Get("Suggests"),
		}
		binToSrc[name] = src
		return nil
	})
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("count", len(binaries)).Msg("parsed binary stanzas")

	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	sort.Strings(names)

	var unresolved int
	out := make([]chai.NormalizedPackage, 0, len(names))
	for _, n := range names {
		s := sources[n]
		p := chai.NormalizedPackage{
			ImportID: s.Name,
			Name:     s.Name,
			URLs:     make(map[chai.URLKind][]string),
		}
		addURL := func(kind chai.URLKind, v string) {
			if v != "" {
				p.URLs[kind] = append(p.URLs[kind], v)
			}
		}
		addURL(chai.HomepageKind, s.Homepage)
		addURL(chai.RepositoryKind, s.VcsBrowser)
		addURL(chai.SourceKind, s.VcsGit)

		if name, email := splitMaintainer(s.Maintainer); name != "" {
			p.Users = append(p.Users, chai.NormalizedUser{
				Username: name,
				ImportID: email,
				Source:   "debian",
			})
		}

		seen := make(map[chai.NormalizedDependency]struct{})
		addDeps := func(rel string, kind chai.DependencyKind, resolve bool) {
			for _, d := range relations(rel) {
				target := d.name
				if resolve {
					src, ok := binToSrc[d.name]
					if !ok {
						unresolved++
						continue
					}
					target = src
				}
				// Binaries routinely depend on siblings from the same
				// source; those edges say nothing at source granularity.
				if target == s.Name {
					continue
				}
				nd := chai.NormalizedDependency{
					ImportID:    target,
					Kind:        kind,
					SemverRange: d.constraint,
				}
				if _, dup := seen[nd]; dup {
					continue
				}
				seen[nd] = struct{}{}
				p.Dependencies = append(p.Dependencies, nd)
			}
		}
		// Build-Depends name source packages directly.
		addDeps(s.BuildDepends, chai.BuildKind, false)
		for _, bn := range s.Binaries {
			b := binaries[bn]
			if b == nil {
				continue
			}
			if p.Readme == "" {
				p.Readme = b.Description
			}
			addDeps(b.Depends, chai.RuntimeKind, true)
			addDeps(b.Recommends, chai.RecommendedKind, true)
			addDeps(b.Suggests, chai.OptionalKind, true)
		}

		out = append(out, p)
	}
	zlog.Info(ctx).
		Int("count", len(out)).
		Int("unresolved_binaries", unresolved).
		Msg("snapshot parsed")
	return out, nil
}

// newer reports whether a sorts after b as Debian versions. Unparseable
// versions never win.
func newer(a, b string) bool {
	va, err := version.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return true
	}
	return va.GreaterThan(vb)
}

// relation is one parsed dependency clause.
type relation struct {
	name       string
	constraint string
}

// relations parses a Depends-style field. Clauses are comma-separated;
// within a clause only the first alternative counts. Architecture
// qualifiers, restrictions and profiles are discarded.
func relations(field string) []relation {
	if field == "" {
		return nil
	}
	var out []relation
	for _, clause := range strings.Split(field, ",") {
		alt := clause
		if i := strings.IndexByte(alt, '|'); i >= 0 {
			alt = alt[:i]
		}
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		var r relation
		if i := strings.IndexByte(alt, '('); i >= 0 {
			if j := strings.IndexByte(alt[i:], ')'); j > 0 {
				r.constraint = strings.TrimSpace(alt[i+1 : i+j])
			}
			alt = alt[:i]
		}
		name := strings.Fields(alt)
		if len(name) == 0 {
			continue
		}
		// "libc6:any" and friends.
		r.name, _, _ = strings.Cut(name[0], ":")
		if r.name != "" {
			out = append(out, r)
		}
	}
	return out
}

// splitMaintainer splits "Jane Doe <jane@debian.org>" into its parts.
func splitMaintainer(m string) (name, email string) {
	m = strings.TrimSpace(m)
	if m == "" {
		return "", ""
	}
	if i := strings.IndexByte(m, '<'); i >= 0 {
		email = strings.TrimRight(strings.TrimSpace(m[i+1:]), ">")
		name = strings.TrimSpace(m[:i])
		if name == "" {
			name = email
		}
		return name, email
	}
	return m, ""
}

// eachStanza streams an RFC 822-style index file stanza by stanza.
func eachStanza(path string, fn func(textproto.MIMEHeader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("debian: missing index: %w", err)
	}
	defer f.Close()

	tp := textproto.NewReader(bufio.NewReader(f))
	for {
		hdr, err := tp.ReadMIMEHeader()
		if len(hdr) > 0 {
			if ferr := fn(hdr); ferr != nil {
				return ferr
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("debian: failed to read %s: %w", filepath.Base(path), err)
		}
	}
}
