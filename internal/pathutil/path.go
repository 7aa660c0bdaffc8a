// Package pathutil expands user supplied file paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands environment variables and a leading "~/" in p.
// The result is not made absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "" || p[0] != '~' {
		return p, nil
	}
	if len(p) > 1 && p[1] != '/' && p[1] != '\\' {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if len(p) == 1 {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

// ResolveRelative expands p and anchors a relative result at dir. It is used
// for paths read from a config file, which are relative to that file.
func ResolveRelative(dir, p string) (string, error) {
	expanded, err := ExpandUserAndEnv(p)
	if err != nil || expanded == "" || filepath.IsAbs(expanded) || dir == "" {
		return expanded, err
	}
	return filepath.Join(dir, expanded), nil
}
