package homebrew

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

// formula is the subset of the API document CHAI reads.
type formula struct {
	Name       string `json:"name"`
	Desc       string `json:"desc"`
	Homepage   string `json:"homepage"`
	Deprecated bool   `json:"deprecated"`
	URLs       struct {
		Stable struct {
			URL string `json:"url"`
		} `json:"stable"`
		Head struct {
			URL string `json:"url"`
		} `json:"head"`
	} `json:"urls"`
	Dependencies            []string          `json:"dependencies"`
	BuildDependencies       []string          `json:"build_dependencies"`
	TestDependencies        []string          `json:"test_dependencies"`
	RecommendedDependencies []string          `json:"recommended_dependencies"`
	OptionalDependencies    []string          `json:"optional_dependencies"`
	UsesFromMacos           []json.RawMessage `json:"uses_from_macos"`
}

// Parse implements driver.Updater.
//
// The formula name doubles as the import id; Homebrew has no separate
// numeric identifier. Deprecated formulae are skipped.
func (u *Updater) Parse(ctx context.Context, dir string) ([]chai.NormalizedPackage, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "homebrew/Updater.Parse")

	f, err := os.Open(filepath.Join(dir, formulaFile))
	if err != nil {
		return nil, fmt.Errorf("homebrew: missing document: %w", err)
	}
	defer f.Close()

	var doc []formula
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("homebrew: malformed document: %w", err)
	}

	var deprecated int
	out := make([]chai.NormalizedPackage, 0, len(doc))
	for i := range doc {
		fm := &doc[i]
		if fm.Name == "" {
			continue
		}
		if fm.Deprecated {
			deprecated++
			continue
		}
		p := chai.NormalizedPackage{
			ImportID: fm.Name,
			Name:     fm.Name,
			Readme:   fm.Desc,
			URLs:     make(map[chai.URLKind][]string),
		}
		if fm.Homepage != "" {
			p.URLs[chai.HomepageKind] = append(p.URLs[chai.HomepageKind], fm.Homepage)
		}
		// The head URL tracks development and is preferred as the source
		// location; most formulae only carry a stable tarball.
		src := fm.URLs.Head.URL
		if src == "" {
			src = fm.URLs.Stable.URL
		}
		if src != "" {
			p.URLs[chai.SourceKind] = append(p.URLs[chai.SourceKind], src)
			if isForge(src) {
				p.URLs[chai.RepositoryKind] = append(p.URLs[chai.RepositoryKind], src)
			}
		}

		addDeps := func(names []string, kind chai.DependencyKind) {
			for _, n := range names {
				if n == "" {
					continue
				}
				p.Dependencies = append(p.Dependencies, chai.NormalizedDependency{
					ImportID: n,
					Kind:     kind,
				})
			}
		}
		addDeps(fm.Dependencies, chai.RuntimeKind)
		addDeps(fm.BuildDependencies, chai.BuildKind)
		addDeps(fm.TestDependencies, chai.TestKind)
		addDeps(fm.RecommendedDependencies, chai.RecommendedKind)
		addDeps(fm.OptionalDependencies, chai.OptionalKind)
		addDeps(macosDeps(fm.UsesFromMacos), chai.UsesFromMacosKind)

		out = append(out, p)
	}
	zlog.Info(ctx).
		Int("count", len(out)).
		Int("deprecated", deprecated).
		Msg("snapshot parsed")
	return out, nil
}

// macosDeps flattens the uses_from_macos list. Entries are either a bare
// name or a one-key object qualifying the dependency ("zlib",
// {"libxml2": "build"}); the qualifier is dropped, the kind stays
// uses_from_macos.
func macosDeps(raw []json.RawMessage) []string {
	var out []string
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(r, &m); err != nil {
			continue
		}
		for k := range m {
			out = append(out, k)
		}
	}
	return out
}

// isForge reports whether the URL points at a code host we record as a
// repository location.
func isForge(url string) bool {
	u := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	for _, h := range []string{"github.com/", "gitlab.com/", "bitbucket.org/", "codeberg.org/"} {
		if strings.HasPrefix(u, h) {
			return true
		}
	}
	return false
}
