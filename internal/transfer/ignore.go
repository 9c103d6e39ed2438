package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFile is read from the repository root and uses gitignore syntax.
const IgnoreFile = ".hoistignore"

// DefaultIgnore keeps version control metadata off the target host.
var DefaultIgnore = []string{".git"}

// Ignore decides which paths of a working tree are not transferred.
type Ignore struct {
	patterns []string
	matcher  gitignore.Matcher
}

// NewIgnore compiles gitignore-style patterns.
func NewIgnore(patterns []string) *Ignore {
	var ps []gitignore.Pattern
	var kept []string
	for _, p := range patterns {
		p = strings.TrimRight(p, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		kept = append(kept, p)
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	return &Ignore{patterns: kept, matcher: gitignore.NewMatcher(ps)}
}

// LoadIgnore combines the configured patterns with the ones in dir/.hoistignore.
// A missing ignore file is not an error.
func LoadIgnore(dir string, configured []string) (*Ignore, error) {
	patterns := append([]string(nil), configured...)

	f, err := os.Open(filepath.Join(dir, IgnoreFile))
	if errors.Is(err, os.ErrNotExist) {
		return NewIgnore(patterns), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", IgnoreFile, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		patterns = append(patterns, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	return NewIgnore(patterns), nil
}

// Match reports whether the slash-separated relative path is ignored.
func (i *Ignore) Match(rel string, isDir bool) bool {
	if i == nil || rel == "" || rel == "." {
		return false
	}
	return i.matcher.Match(strings.Split(rel, "/"), isDir)
}

// Patterns returns the effective pattern list.
func (i *Ignore) Patterns() []string {
	if i == nil {
		return nil
	}
	return append([]string(nil), i.patterns...)
}
