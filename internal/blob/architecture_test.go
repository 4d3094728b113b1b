package blob

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyWrappersImportInfra ensures infra-backed implementations are only
// reached through their wrapper packages. Everything else depends on the
// blob.Store and ledger.Store interfaces.
func TestOnlyWrappersImportInfra(t *testing.T) {
	boundaries := []struct {
		infra   string
		allowed []string
	}{
		{infra: "metarecon/internal/infra/blob", allowed: []string{"metarecon/internal/blob"}},
		{infra: "metarecon/internal/infra/persistence", allowed: []string{"metarecon/internal/ledger"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "metarecon/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, b := range boundaries {
		for _, pkg := range pkgs {
			if hasPrefix(pkg.PkgPath, b.infra) || anyPrefix(pkg.PkgPath, b.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPrefix(importPath, b.infra) {
					seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func hasPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}

func anyPrefix(importPath string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}
