package obs

import "strings"

// CanonicalPath collapses per-resource path segments into templated labels so
// metric cardinality stays bounded regardless of how many accounts exist.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "registration" && parts[2] == "personal" && len(parts) == 4:
		return "/v1/registration/personal/:identityCard"
	case len(parts) >= 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "doctors" && len(parts) == 5:
		return "/v1/admin/doctors/:id/" + parts[4]
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "accounts":
		return "/v1/admin/accounts/:id"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "accounts":
		return "/v1/admin/accounts/:id/" + parts[4]
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "roles" && parts[4] == "privileges":
		return "/v1/admin/roles/:name/privileges"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "caches":
		return "/v1/admin/caches/:name"
	}
	return path
}
