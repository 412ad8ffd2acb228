package storage

import (
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ghyeongl/scribe-relay/logging"
)

// skipName reports drop-directory entries that are never announced:
// hidden files and in-flight temporaries.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part")
}

// scanDrops walks root and returns the relative slash paths of every file.
func scanDrops(root string) ([]string, error) {
	l := logging.Sub("intake")
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			l.Warn("scan walk error", "path", p, "err", err)
			return err
		}
		if p == root {
			return nil
		}
		if skipName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	l.Debug("scan complete", "root", root, "files", len(out))
	return out, err
}

// parseDropPath reads "<sessionId>/<ordinal>[_suffix][.ext]".
func parseDropPath(rel string) (sessionID string, ordinal int, ok bool) {
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, false
	}
	stem := parts[1]
	if i := strings.IndexAny(stem, "._"); i >= 0 {
		stem = stem[:i]
	}
	if stem == "" || strings.TrimLeft(stem, "0123456789") != "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(stem)
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}
