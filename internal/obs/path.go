package obs

import "strings"

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded. Unknown paths are returned as-is (minus any query string).
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "engagements" {
		return "/v1/engagements/:id"
	}
	return path
}
