package crates

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/quay/zlog"

	"github.com/teaxyz/chai"
)

// Dependency kinds as encoded in dependencies.csv.
const (
	kindNormal = "0"
	kindBuild  = "1"
	kindDev    = "2"
)

// Parse implements driver.Updater.
//
// The dump ships CSVs under "<date>/data/". Only the latest version of each
// crate contributes dependencies and a publisher; whole-crate metadata
// (name, readme, urls) comes from crates.csv.
func (u *Updater) Parse(ctx context.Context, dir string) ([]chai.NormalizedPackage, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "crates/Updater.Parse")

	data, err := findDataDir(dir)
	if err != nil {
		return nil, err
	}

	pkgs := make(map[string]*chai.NormalizedPackage)
	if err := eachRow(data, "crates.csv", func(row map[string]string) error {
		id := row["id"]
		if id == "" {
			return nil
		}
		p := &chai.NormalizedPackage{
			ImportID: id,
			Name:     row["name"],
			Readme:   row["readme"],
			URLs:     make(map[chai.URLKind][]string),
		}
		addURL := func(kind chai.URLKind, v string) {
			if v != "" {
				p.URLs[kind] = append(p.URLs[kind], v)
			}
		}
		addURL(chai.HomepageKind, row["homepage"])
		addURL(chai.DocumentationKind, row["documentation"])
		addURL(chai.RepositoryKind, row["repository"])
		if isForge(row["repository"]) {
			addURL(chai.SourceKind, row["repository"])
		}
		pkgs[id] = p
		return nil
	}); err != nil {
		return nil, err
	}
	zlog.Info(ctx).Int("count", len(pkgs)).Msg("parsed crates")

	// Latest version per crate; everything version-scoped filters on it.
	latest := make(map[string]string) // version id -> crate id
	if err := eachRow(data, "default_versions.csv", func(row map[string]string) error {
		if v, c := row["version_id"], row["crate_id"]; v != "" && c != "" {
			latest[v] = c
		}
		return nil
	}); err != nil {
		return nil, err
	}

	logins := make(map[string]string)
	if err := eachRow(data, "users.csv", func(row map[string]string) error {
		if row["id"] != "" && row["gh_login"] != "" {
			logins[row["id"]] = row["gh_login"]
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachRow(data, "versions.csv", func(row map[string]string) error {
		if latest[row["id"]] == "" {
			return nil
		}
		p := pkgs[row["crate_id"]]
		if p == nil {
			return nil
		}
		if login := logins[row["published_by"]]; login != "" {
			p.Users = append(p.Users, chai.NormalizedUser{
				Username: login,
				ImportID: row["published_by"],
				Source:   "github",
			})
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var badRange, badKind int
	if err := eachRow(data, "dependencies.csv", func(row map[string]string) error {
		crateID, ok := latest[row["version_id"]]
		if !ok {
			return nil
		}
		p := pkgs[crateID]
		if p == nil {
			return nil
		}
		var kind chai.DependencyKind
		switch row["kind"] {
		case kindNormal:
			kind = chai.RuntimeKind
		case kindBuild:
			kind = chai.BuildKind
		case kindDev:
			kind = chai.TestKind
		default:
			badKind++
			return nil
		}
		req := row["req"]
		if _, err := semver.NewConstraint(req); err != nil {
			// The range is recorded as-is; it just is not one our
			// tooling can evaluate.
			badRange++
		}
		p.Dependencies = append(p.Dependencies, chai.NormalizedDependency{
			ImportID:    row["crate_id"],
			Kind:        kind,
			SemverRange: req,
		})
		return nil
	}); err != nil {
		return nil, err
	}
	if badKind != 0 || badRange != 0 {
		zlog.Debug(ctx).
			Int("unknown_kinds", badKind).
			Int("unparseable_ranges", badRange).
			Msg("irregular dependency rows")
	}

	out := make([]chai.NormalizedPackage, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, *p)
	}
	zlog.Info(ctx).Int("count", len(out)).Msg("snapshot parsed")
	return out, nil
}

// findDataDir locates the data directory inside an extracted dump. Dumps
// nest it under a dated top-level directory.
func findDataDir(dir string) (string, error) {
	if fi, err := os.Stat(filepath.Join(dir, "data")); err == nil && fi.IsDir() {
		return filepath.Join(dir, "data"), nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*", "data"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("crates: no data directory under %q", dir)
	}
	return matches[0], nil
}

// eachRow streams name's records as header-keyed maps.
func eachRow(dir, name string, fn func(map[string]string) error) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("crates: missing %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("crates: failed to read %s header: %w", name, err)
	}
	cols := make([]string, len(header))
	copy(cols, header)
	row := make(map[string]string, len(cols))
	for {
		rec, err := r.Read()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("crates: failed to read %s: %w", name, err)
		}
		for i, c := range cols {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = ""
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// isForge reports whether the URL points at a code host we record as a
// source location.
func isForge(url string) bool {
	u := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	for _, h := range []string{"github.com/", "gitlab.com/", "bitbucket.org/", "codeberg.org/"} {
		if strings.HasPrefix(u, h) {
			return true
		}
	}
	return false
}
