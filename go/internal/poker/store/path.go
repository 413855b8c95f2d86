package store

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Separator joins path segments.
const Separator = "/"

// Join builds a path from raw segments. Each segment is escaped so names
// containing the separator stay a single segment.
func Join(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, Separator)
}

// Child appends one raw segment to an already built path.
func Child(path, segment string) string {
	if path == "" {
		return url.PathEscape(segment)
	}
	return path + Separator + url.PathEscape(segment)
}

// Base returns the unescaped last segment of path.
func Base(path string) string {
	i := strings.LastIndex(path, Separator)
	seg := path[i+1:]
	if raw, err := url.PathUnescape(seg); err == nil {
		return raw
	}
	return seg
}

// Clean validates a path and strips surrounding separators.
func Clean(path string) (string, error) {
	p := strings.Trim(path, Separator)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, seg := range strings.Split(p, Separator) {
		if seg == "" {
			return "", fmt.Errorf("empty segment in path %q", path)
		}
	}
	return p, nil
}

// Within reports whether path equals root or lies below it.
func Within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+Separator)
}

// Related reports whether a change at one path can affect the value of the
// other.
func Related(a, b string) bool {
	return Within(a, b) || Within(b, a)
}

// Ancestors returns the proper ancestors of path, nearest to the root first.
func Ancestors(path string) []string {
	var out []string
	for i := 0; i < len(path); i++ {
		if path[i] == Separator[0] {
			out = append(out, path[:i])
		}
	}
	return out
}

// NewPushID returns a child id whose lexical order follows creation order.
func NewPushID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate push id: %w", err)
	}
	return id.String(), nil
}
