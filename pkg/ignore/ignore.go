// Package ignore implements a gitignore-compatible path filter used by the
// file-sync poller. Rules are compiled once per rule set; the last matching
// rule wins, so negations can re-include previously excluded paths.
package ignore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultRules are the built-in exclusions applied when no rule file
// overrides them.
var DefaultRules = []string{
	".env",
	".env.*",
	"*.secret",
	"credentials/",
	"node_modules/",
	".git/",
	"dist/",
	".DS_Store",
	"Thumbs.db",
	".hq-sync.pid",
	".hq-sync.log",
}

// rule is one compiled ignore pattern.
type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Matcher is a compiled, immutable rule set safe for concurrent use.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles rule lines. Blank lines and '#' comments are
// skipped; a leading '!' negates; a trailing '/' restricts to directories;
// any '/' in the body anchors the pattern at the matcher root.
func NewMatcher(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		r := rule{pattern: trimmed}
		if strings.HasPrefix(r.pattern, "!") {
			r.negate = true
			r.pattern = r.pattern[1:]
		}
		if strings.HasSuffix(r.pattern, "/") {
			r.dirOnly = true
			r.pattern = strings.TrimSuffix(r.pattern, "/")
		}
		if strings.HasPrefix(r.pattern, "/") {
			r.anchored = true
			r.pattern = strings.TrimPrefix(r.pattern, "/")
		} else if strings.Contains(r.pattern, "/") {
			r.anchored = true
		}
		if r.pattern == "" {
			continue
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// ParseContent compiles a rule file's content.
func ParseContent(content string) *Matcher {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return NewMatcher(lines)
}

// Match reports whether the path is ignored. isDir distinguishes
// directory-only patterns. Windows-style separators are normalized first.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = normalize(path)
	if path == "" {
		return false
	}

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r *rule) matches(path string, isDir bool) bool {
	pat := r.pattern
	if !r.anchored {
		pat = "**/" + pat
	}

	// Direct match on the path itself. Directory-only patterns require
	// the path to actually be a directory.
	if ok, err := doublestar.Match(pat, path); err == nil && ok {
		if r.dirOnly && !isDir {
			return false
		}
		return true
	}

	// A pattern matching an ancestor directory ignores everything below
	// it ("node_modules/" covers node_modules/a/b.js).
	if ok, err := doublestar.Match(pat+"/**", path); err == nil && ok {
		return true
	}
	return false
}

func normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return strings.TrimSuffix(path, "/")
}

// Cache memoizes compiled matchers by rule-file content hash, so a poller
// re-reading an unchanged .hqignore reuses the compiled rule vector.
type Cache struct {
	mu sync.Mutex
	by map[string]*Matcher
}

// NewCache creates an empty matcher cache.
func NewCache() *Cache {
	return &Cache{by: make(map[string]*Matcher)}
}

// Get returns the compiled matcher for the content, compiling on first use.
func (c *Cache) Get(content string) *Matcher {
	sum := sha256.Sum256([]byte(content))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.by[key]; ok {
		return m
	}
	m := ParseContent(content)
	c.by[key] = m
	return m
}
