// Package exclude filters housekeeping files out of an MRI tree before any
// naming pattern is applied.
package exclude

import (
	"fmt"
	"path"
	"strings"
)

type Matcher struct {
	patterns []string
}

// DefaultPatterns are files scanners, operating systems and editors leave
// behind next to exported series
func DefaultPatterns() []string {
	return []string{
		".git/",
		".DS_Store",
		"._*",
		"Thumbs.db",
		"desktop.ini",
		"*.tmp",
		"*.part",
		"*.swp",
		"~$*",
	}
}

// New merges user patterns with the defaults. Glob patterns are checked up
// front so a typo is reported before the walk starts.
func New(patterns []string) (*Matcher, error) {
	merged := append([]string{}, DefaultPatterns()...)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(strings.TrimSuffix(p, "/"), ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}, nil
}

func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// IsExcluded reports whether relPath, slash separated and relative to the
// sync root, matches any pattern. Patterns ending in "/" only match
// directories and everything below them.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	base := path.Base(relPath)
	for _, p := range m.patterns {
		if dirPattern, ok := strings.CutSuffix(p, "/"); ok {
			if isDir && (relPath == dirPattern || base == dirPattern) {
				return true
			}
			if strings.HasPrefix(relPath, dirPattern+"/") || strings.Contains(relPath, "/"+dirPattern+"/") {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, base); ok {
				return true
			}
			continue
		}
		if relPath == p || base == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
	}
	return false
}
