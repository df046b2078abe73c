package pkgx

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quay/zlog"
	"gopkg.in/yaml.v3"

	"github.com/teaxyz/chai"
)

const (
	projectsDir = "projects"
	packageFile = "package.yml"
)

// packageYAML is one pantry package.yml. The format is loosely typed, so
// most sections stay yaml.Node and are picked apart by hand.
type packageYAML struct {
	Warnings      yaml.Node `yaml:"warnings"`
	Distributable yaml.Node `yaml:"distributable"`
	Dependencies  yaml.Node `yaml:"dependencies"`
	Build         yaml.Node `yaml:"build"`
	Test          yaml.Node `yaml:"test"`
}

// Parse implements driver.Updater.
//
// Every directory under projects/ holding a package.yml is one package, its
// path relative to projects/ the import id. Projects carrying a "vendored"
// warning mirror another ecosystem's artifact and are skipped.
func (u *Updater) Parse(ctx context.Context, dir string) ([]chai.NormalizedPackage, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pkgx/Updater.Parse")

	root := filepath.Join(dir, projectsDir)
	var out []chai.NormalizedPackage
	var vendored, malformed int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != packageFile {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		importID := filepath.ToSlash(rel)

		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var py packageYAML
		if err := yaml.Unmarshal(b, &py); err != nil {
			zlog.Warn(ctx).Str("import_id", importID).Err(err).Msg("malformed package.yml")
			malformed++
			return nil
		}
		if isVendored(&py.Warnings) {
			vendored++
			return nil
		}

		p := chai.NormalizedPackage{
			ImportID: importID,
			Name:     importID,
			URLs:     make(map[chai.URLKind][]string),
		}
		hp, err := u.homepage(ctx, importID)
		if err != nil {
			return err
		}
		if hp != "" {
			p.URLs[chai.HomepageKind] = append(p.URLs[chai.HomepageKind], hp)
		}
		for _, src := range distributables(&py.Distributable) {
			p.URLs[chai.SourceKind] = append(p.URLs[chai.SourceKind], src)
			if isForge(src) {
				p.URLs[chai.RepositoryKind] = append(p.URLs[chai.RepositoryKind], src)
			}
		}

		seen := make(map[chai.NormalizedDependency]struct{})
		add := func(deps []dep, kind chai.DependencyKind) {
			for _, d := range deps {
				nd := chai.NormalizedDependency{
					ImportID:    d.name,
					Kind:        kind,
					SemverRange: d.semver,
				}
				if _, dup := seen[nd]; dup {
					continue
				}
				seen[nd] = struct{}{}
				p.Dependencies = append(p.Dependencies, nd)
			}
		}
		add(depList(&py.Dependencies), chai.RuntimeKind)
		add(sectionDeps(&py.Build), chai.BuildKind)
		add(sectionDeps(&py.Test), chai.TestKind)

		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pkgx: failed to walk pantry: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ImportID < out[j].ImportID })
	zlog.Info(ctx).
		Int("count", len(out)).
		Int("vendored", vendored).
		Int("malformed", malformed).
		Msg("snapshot parsed")
	return out, nil
}

// homepage consults the configured resolver, falling back to the static
// naming rules when none is set.
func (u *Updater) homepage(ctx context.Context, importID string) (string, error) {
	if u.homepages == nil {
		return specialCase(importID), nil
	}
	return u.homepages.Homepage(ctx, importID)
}

// isVendored reports whether the warnings section carries "vendored".
func isVendored(n *yaml.Node) bool {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value == "vendored"
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if c.Value == "vendored" {
				return true
			}
		}
	}
	return false
}

// dep is one dependency declaration.
type dep struct {
	name   string
	semver string
}

// depList flattens a dependency mapping. Direct entries map a project to a
// version range; a nested mapping is a platform block ("linux", "darwin",
// "all") whose entries count the same, platform discarded.
func depList(n *yaml.Node) []dep {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	var out []dep
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		switch v.Kind {
		case yaml.MappingNode:
			for j := 0; j+1 < len(v.Content); j += 2 {
				dk, dv := v.Content[j], v.Content[j+1]
				if dv.Kind == yaml.ScalarNode {
					out = append(out, dep{name: dk.Value, semver: scalar(dv)})
				}
			}
		case yaml.ScalarNode:
			out = append(out, dep{name: k.Value, semver: scalar(v)})
		}
	}
	return out
}

// sectionDeps extracts the dependencies of a build or test section. The
// section may also be a bare script (scalar or sequence), which declares
// none.
func sectionDeps(n *yaml.Node) []dep {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "dependencies" {
			return depList(n.Content[i+1])
		}
	}
	return nil
}

// scalar renders a scalar node, treating an explicit null as empty.
func scalar(n *yaml.Node) string {
	if n.Tag == "!!null" {
		return ""
	}
	return n.Value
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

// distributables lists the source tarball URLs of the distributable
// section, which is a mapping, a sequence of mappings, or absent.
func distributables(n *yaml.Node) []string {
	var out []string
	urlOf := func(m *yaml.Node) {
		if m.Kind != yaml.MappingNode {
			return
		}
		for i := 0; i+1 < len(m.Content); i += 2 {
			if m.Content[i].Value == "url" && m.Content[i+1].Kind == yaml.ScalarNode {
				if v := scalar(m.Content[i+1]); v != "" {
					out = append(out, v)
				}
			}
		}
	}
	switch n.Kind {
	case yaml.MappingNode:
		urlOf(n)
	case yaml.SequenceNode:
		for _, c := range n.Content {
			urlOf(c)
		}
	}
	return out
}
