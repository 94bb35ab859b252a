// Package promptref resolves the @path file-reference syntax described in
// spec §6: any token of the form @<path> (path may contain * and ** glob
// wildcards) is replaced by the concatenated contents of the matched
// files, separated by a clear delimiter, before a prompt is dispatched.
package promptref

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

// tokenPattern matches an @path token. Paths are whitespace-delimited;
// a path ends at the first character that can't plausibly belong to a
// filesystem path token (whitespace or a closing bracket/quote).
var tokenPattern = regexp.MustCompile(`@([^\s"'` + "`" + `)\]}]+)`)

const delimiterFormat = "\n----- %s -----\n"

// Resolve replaces every @path token in content with the concatenated
// contents of its matched files, rooted at baseDir. It returns
// model.KindPromptReference on any unresolved or unreadable reference.
func Resolve(content, baseDir string) (string, error) {
	var resolveErr error
	out := tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		if resolveErr != nil {
			return token
		}
		raw := strings.TrimPrefix(token, "@")
		replacement, err := resolveToken(raw, baseDir)
		if err != nil {
			resolveErr = err
			return token
		}
		return replacement
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return out, nil
}

func resolveToken(pattern, baseDir string) (string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, pattern)
	}

	matches, err := matchGlob(full)
	if err != nil {
		return "", model.Wrap(model.KindPromptReference, err, "resolving @%s", pattern)
	}
	if len(matches) == 0 {
		return "", model.New(model.KindPromptReference, "@%s matched no files", pattern)
	}

	sort.Strings(matches)

	var sb strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return "", model.Wrap(model.KindPromptReference, err, "reading @%s (%s)", pattern, m)
		}
		sb.WriteString(fmt.Sprintf(delimiterFormat, m))
		sb.Write(data)
	}
	return sb.String(), nil
}

// matchGlob expands pattern, supporting a "**" path segment (recursive
// descent) in addition to filepath.Glob's single-segment * support.
func matchGlob(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		info, err := os.Stat(pattern)
		if err == nil && !info.IsDir() {
			return []string{pattern}, nil
		}
		return filepath.Glob(pattern)
	}

	idx := strings.Index(pattern, "**")
	prefix := strings.TrimSuffix(pattern[:idx], "/")
	suffix := strings.TrimPrefix(pattern[idx+2:], "/")

	var matches []string
	err := filepath.Walk(prefix, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if suffix == "" {
			matches = append(matches, path)
			return nil
		}
		rel, err := filepath.Rel(prefix, path)
		if err != nil {
			return nil
		}
		ok, err := filepath.Match(suffix, filepath.Base(rel))
		if err == nil && ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// HasReferences reports whether content contains any @path token, so
// callers can skip the filesystem round-trip entirely for plain prompts.
func HasReferences(content string) bool {
	return tokenPattern.MatchString(content)
}
