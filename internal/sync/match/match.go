// Package match compiles and applies the ordered regular expression lists
// that decide which directories and files take part in a sync.
package match

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternError reports an expression that failed to compile.
// Level is the 1-based directory level, or 0 for a non-level pattern list.
type PatternError struct {
	Level int
	Index int
	Expr  string
	Err   error
}

func (e *PatternError) Error() string {
	if e.Level > 0 {
		return fmt.Sprintf("invalid pattern %q (level %d, #%d): %v", e.Expr, e.Level, e.Index+1, e.Err)
	}
	return fmt.Sprintf("invalid pattern %q (#%d): %v", e.Expr, e.Index+1, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// PatternSet is an ordered list of compiled expressions. A name matches the
// set when it matches at least one expression; an empty set matches nothing.
type PatternSet struct {
	exprs []*regexp.Regexp
}

// Compile compiles exprs in order. Expressions are used as given, so
// callers anchor them with ^...$ when a whole-name match is wanted.
func Compile(exprs []string) (PatternSet, error) {
	return compile(0, exprs)
}

// MustCompile is like Compile but panics on error
func MustCompile(exprs ...string) PatternSet {
	ps, err := Compile(exprs)
	if err != nil {
		panic(err)
	}
	return ps
}

func compile(level int, exprs []string) (PatternSet, error) {
	ps := PatternSet{exprs: make([]*regexp.Regexp, 0, len(exprs))}
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return PatternSet{}, &PatternError{Level: level, Index: i, Expr: expr, Err: err}
		}
		ps.exprs = append(ps.exprs, re)
	}
	return ps, nil
}

// Matches reports whether name matches any expression in the set
func (p PatternSet) Matches(name string) bool {
	return p.MatchIndex(name) >= 0
}

// MatchIndex returns the index of the first expression matching name, or -1
func (p PatternSet) MatchIndex(name string) int {
	for i, re := range p.exprs {
		if re.MatchString(name) {
			return i
		}
	}
	return -1
}

func (p PatternSet) Len() int {
	return len(p.exprs)
}

func (p PatternSet) Empty() bool {
	return len(p.exprs) == 0
}

func (p PatternSet) String() string {
	parts := make([]string, len(p.exprs))
	for i, re := range p.exprs {
		parts[i] = re.String()
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

// Levels holds one PatternSet per directory depth below the sync root.
// Levels[0] filters the root's immediate subdirectories.
type Levels []PatternSet

// CompileLevels compiles one PatternSet per level
func CompileLevels(levels [][]string) (Levels, error) {
	out := make(Levels, 0, len(levels))
	for i, exprs := range levels {
		ps, err := compile(i+1, exprs)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

// Depth is the number of directory levels the walk descends
func (l Levels) Depth() int {
	return len(l)
}

// Match reports whether a directory called name at depth (1 = child of the
// root) passes its level's filter. Depths outside the configured levels
// never match, which bounds the traversal.
func (l Levels) Match(depth int, name string) bool {
	if depth < 1 || depth > len(l) {
		return false
	}
	return l[depth-1].Matches(name)
}
