package github

import (
	"regexp"
	"sort"
	"strings"

	"github.com/crosswire-ai/crosswire/internal/model"
)

// Best-effort code context from unified-diff patches. Only TypeScript
// and JavaScript sources are understood; other languages yield nothing.

var (
	funcRe      = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	arrowRe     = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=]+)?=>`)
	classRe     = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`)
	componentRe = regexp.MustCompile(`^(?:export\s+)?(?:const|let)\s+([A-Z][\w$]*)\s*(?::\s*React\.)`)
	importRe    = regexp.MustCompile(`^import\s+(?:[^'"]+\s+from\s+)?['"]([^'"]+)['"]`)
)

var scriptExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
}

func isScriptFile(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	return scriptExtensions[name[idx:]]
}

// extractSymbols scans added/removed diff lines for declarations.
// Symbols appearing on both sides are modified; added-side imports are
// collected separately. Returns nil when no script files changed.
func extractSymbols(files []ghFile) *model.SymbolChanges {
	added := make(map[string]bool)
	removed := make(map[string]bool)
	imports := make(map[string]bool)
	sawScript := false

	for _, f := range files {
		if !isScriptFile(f.Filename) || f.Patch == "" {
			continue
		}
		sawScript = true
		for _, line := range strings.Split(f.Patch, "\n") {
			if len(line) < 2 {
				continue
			}
			marker, code := line[0], strings.TrimSpace(line[1:])
			if marker != '+' && marker != '-' {
				continue
			}
			if marker == '+' {
				if m := importRe.FindStringSubmatch(code); m != nil {
					imports[m[1]] = true
					continue
				}
			}
			sym := declaredSymbol(code)
			if sym == "" {
				continue
			}
			if marker == '+' {
				added[sym] = true
			} else {
				removed[sym] = true
			}
		}
	}
	if !sawScript {
		return nil
	}

	var modified []string
	for sym := range added {
		if removed[sym] {
			modified = append(modified, sym)
			delete(added, sym)
			delete(removed, sym)
		}
	}

	sc := &model.SymbolChanges{
		Added:    sortedKeys(added),
		Removed:  sortedKeys(removed),
		Modified: sorted(modified),
		Imports:  sortedKeys(imports),
	}
	if len(sc.Added) == 0 && len(sc.Removed) == 0 && len(sc.Modified) == 0 && len(sc.Imports) == 0 {
		return nil
	}
	return sc
}

func declaredSymbol(code string) string {
	for _, re := range []*regexp.Regexp{funcRe, classRe, componentRe, arrowRe} {
		if m := re.FindStringSubmatch(code); m != nil {
			return m[1]
		}
	}
	return ""
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	return in
}
