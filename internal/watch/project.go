package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// within reports whether path sits at or under root. Both must be
// absolute and clean.
func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// projectRoot returns the nearest ancestor of path, at or below root,
// containing a .git entry. A plain .git file (worktrees, submodules)
// counts. Falls back to the root itself.
func projectRoot(path, root string) string {
	for dir := filepath.Dir(path); within(dir, root); dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		if dir == root {
			break
		}
	}
	return root
}

// originURL extracts the url of [remote "origin"] from the project's
// git config. Pure file scan, no git execution. Returns "" when the
// config or the remote is absent.
func originURL(projectPath string) string {
	f, err := os.Open(filepath.Join(projectPath, ".git", "config"))
	if err != nil {
		return ""
	}
	defer f.Close()

	inOrigin := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			inOrigin = line == `[remote "origin"]`
			continue
		}
		if !inOrigin {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok && strings.TrimSpace(key) == "url" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// ignoredDir reports whether a directory name is noise. Dot
// directories, dependency trees, and configured globs all count.
func (c Config) ignoredDir(name string) bool {
	switch name {
	case "node_modules", "vendor":
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	return c.matchesGlob(name)
}

// ignoredDirPath reports whether any segment of the directory path,
// relative to root, is an ignored directory.
func (c Config) ignoredDirPath(path, root string) bool {
	if !within(path, root) {
		return true
	}
	if path == root {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if c.ignoredDir(seg) {
			return true
		}
	}
	return false
}

// ignoredFilePath reports whether a file event path should be
// dropped: either its directory is noise or its base name matches an
// ignore glob. Dot files are not ignored by themselves; edits to
// things like .env are real activity.
func (c Config) ignoredFilePath(path, root string) bool {
	if c.ignoredDirPath(filepath.Dir(path), root) {
		return true
	}
	return c.matchesGlob(filepath.Base(path))
}

func (c Config) matchesGlob(name string) bool {
	for _, pattern := range c.IgnoreGlobs {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
