package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels stay low
// cardinality. Unknown shapes pass through untouched.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "documents" && parts[2] == "overdue-sweep":
		return path
	case len(parts) == 3 && parts[0] == "v1" && (parts[1] == "documents" || parts[1] == "payments"):
		return "/v1/" + parts[1] + "/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "documents" && parts[3] == "cancel":
		return "/v1/documents/:id/cancel"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "payments" && parts[3] == "clearance":
		return "/v1/payments/:id/clearance"
	}
	return path
}
