package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PartSuffix marks an in-progress transfer. The file at the canonical
// path never carries it; observers either see nothing or a complete file.
const PartSuffix = ".part"

// SanitizeFilename makes a name safe for use as a single path element on
// both unix and windows filesystems.
func SanitizeFilename(name string) string {
	// Backslashes become separators first so filepath.Base strips them
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "/" || name == "." {
		return "_"
	}
	name = strings.TrimSpace(name)
	for _, c := range []string{"/", ":", "*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, c, "_")
	}
	if name == "" {
		return "_"
	}
	return name
}

// ExtFromURL returns the extension suggested by the URL path, or "" when
// the path carries none.
func ExtFromURL(rawurl string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(parsed.Path)
	if len(ext) > 8 {
		return ""
	}
	return ext
}

// BuildEpisodePath maps a feed title, an episode title and a source URL
// hint to a candidate absolute path under baseDir. Pure: it never touches
// the filesystem.
func BuildEpisodePath(baseDir, feedTitle, episodeTitle, sourceURL string) string {
	ext := ExtFromURL(sourceURL)
	if ext == "" {
		ext = ".mp3"
	}
	feed := SanitizeFilename(feedTitle)
	name := SanitizeFilename(episodeTitle)
	return filepath.Join(baseDir, feed, name+ext)
}

// EnsureUnique returns path if neither it nor its in-progress twin exists,
// otherwise the first free "name(1).ext" style variant.
func EnsureUnique(path string) string {
	if pathFree(path) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	// Continue an existing "file(2)" counter instead of nesting parens
	base := name
	counter := 1
	if len(name) > 3 && name[len(name)-1] == ')' {
		if openParen := strings.LastIndexByte(name, '('); openParen != -1 {
			numStr := name[openParen+1 : len(name)-1]
			if num, err := strconv.Atoi(numStr); err == nil && num > 0 {
				base = name[:openParen]
				counter = num + 1
			}
		}
	}

	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, counter+i, ext))
		if pathFree(candidate) {
			return candidate
		}
	}

	return path
}

func pathFree(path string) bool {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return false
	}
	if _, err := os.Stat(path + PartSuffix); !os.IsNotExist(err) {
		return false
	}
	return true
}
