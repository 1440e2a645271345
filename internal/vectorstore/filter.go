package vectorstore

import "strings"

// MatchesFilters reports whether entry metadata satisfies all filter
// conditions.
//
// The MetaRoles key has membership semantics: an entry with no roles value
// is visible to every role, otherwise the filter role must appear in the
// entry's comma-separated role list. All other keys are exact matches.
func MatchesFilters(metadata map[string]string, filters map[string]string) bool {
	for key, want := range filters {
		if key == MetaRoles {
			if !roleVisible(metadata[MetaRoles], want) {
				return false
			}
			continue
		}
		if metadata[key] != want {
			return false
		}
	}
	return true
}

// roleVisible reports whether an entry restricted to roles is visible to role.
func roleVisible(roles, role string) bool {
	if strings.TrimSpace(roles) == "" {
		return true
	}
	for _, r := range strings.Split(roles, ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

// JoinRoles encodes a role list into the MetaRoles metadata value.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}
