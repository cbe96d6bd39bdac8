package permission

import (
	"slices"
	"time"
)

// Permission is one grant resolved from a role. Path is the route the grant
// guards, when the permission is bound to one.
type Permission struct {
	Code string `json:"code"`
	Path string `json:"path,omitempty"`
}

// DefaultAdminRoles satisfy every permission check.
var DefaultAdminRoles = []string{"admin", "super_admin"}

// Entry is a user's resolved role and permission set. Entries are immutable
// once built; the cache replaces them wholesale and never edits them.
type Entry struct {
	UserID          string        `json:"userId"`
	RoleCodes       []string      `json:"roles"`
	PermissionCodes []string      `json:"permissions"`
	PermissionPaths []string      `json:"paths,omitempty"`
	ResolvedAt      time.Time     `json:"resolvedAt"`
	TTL             time.Duration `json:"ttl"`
	Admin           bool          `json:"admin"`

	// Global generation at fill time; used by stores that cannot clear
	// atomically to hide entries from before a full clear.
	Generation uint64 `json:"gen,omitempty"`
}

func newEntry(userID string, roles []string, perms []Permission, adminRoles []string, now time.Time, ttl time.Duration) *Entry {
	e := &Entry{
		UserID:     userID,
		RoleCodes:  sortedUnique(roles),
		ResolvedAt: now,
		TTL:        ttl,
	}
	codes := make([]string, 0, len(perms))
	paths := make([]string, 0, len(perms))
	for _, p := range perms {
		if p.Code != "" {
			codes = append(codes, p.Code)
		}
		if p.Path != "" {
			paths = append(paths, p.Path)
		}
	}
	e.PermissionCodes = sortedUnique(codes)
	e.PermissionPaths = sortedUnique(paths)
	for _, r := range e.RoleCodes {
		if slices.Contains(adminRoles, r) {
			e.Admin = true
			break
		}
	}
	return e
}

// Expired reports whether the entry outlived its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.ResolvedAt.Add(e.TTL))
}

// HasRole reports whether the user holds role.
func (e *Entry) HasRole(role string) bool {
	_, ok := slices.BinarySearch(e.RoleCodes, role)
	return ok
}

// Has reports whether the user holds code. Admin entries hold everything.
func (e *Entry) Has(code string) bool {
	if e.Admin {
		return true
	}
	_, ok := slices.BinarySearch(e.PermissionCodes, code)
	return ok
}

// HasPath reports whether one of the user's permissions guards path.
func (e *Entry) HasPath(path string) bool {
	if e.Admin {
		return true
	}
	_, ok := slices.BinarySearch(e.PermissionPaths, path)
	return ok
}

func sortedUnique(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
