package rbac

import "slices"

// Role is a school-management role code.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RolePrincipal  Role = "principal"
	RoleTeacher    Role = "teacher"
	RoleParent     Role = "parent"
)

// Level is the coarse permission level a role operates at.
type Level string

const (
	LevelFull       Level = "full"
	LevelLimited    Level = "limited"
	LevelRestricted Level = "restricted"
	LevelDenied     Level = "denied"
)

// Category is a class of data a request can touch.
type Category string

const (
	CategoryUsers     Category = "users"
	CategoryStudents  Category = "students"
	CategoryTeachers  Category = "teachers"
	CategoryParents   Category = "parents"
	CategoryFinancial Category = "financial"
	CategorySystem    Category = "system"
)

// Scope limits which records of a category a role may reach.
type Scope string

const (
	ScopeAll             Scope = "all"
	ScopeSchoolOnly      Scope = "school_only"
	ScopeOwnClassesOnly  Scope = "own_classes_only"
	ScopeOwnChildrenOnly Scope = "own_children_only"
	ScopeNone            Scope = "none"
)

// Policy is the static rule set of one role.
type Policy struct {
	Role              Role
	Level             Level
	AllowedOperations []string
	DataAccess        map[Category]Scope
	Restrictions      []string
	// DeniedTypes are request types the role may never issue.
	DeniedTypes []RequestType
}

// ScopeFor returns the role's scope for c. Unlisted categories are ScopeNone.
func (p Policy) ScopeFor(c Category) Scope {
	if s, ok := p.DataAccess[c]; ok {
		return s
	}
	return ScopeNone
}

func (p Policy) denies(t RequestType) bool {
	return slices.Contains(p.DeniedTypes, t)
}

// DefaultPolicies returns the built-in role table. The returned map is a
// fresh copy.
func DefaultPolicies() map[Role]Policy {
	return map[Role]Policy{
		RoleAdmin: {
			Role:              RoleAdmin,
			Level:             LevelFull,
			AllowedOperations: []string{"create", "read", "update", "delete", "export", "manage"},
			DataAccess: map[Category]Scope{
				CategoryUsers:     ScopeAll,
				CategoryStudents:  ScopeAll,
				CategoryTeachers:  ScopeAll,
				CategoryParents:   ScopeAll,
				CategoryFinancial: ScopeAll,
				CategorySystem:    ScopeAll,
			},
		},
		RolePrincipal: {
			Role:              RolePrincipal,
			Level:             LevelLimited,
			AllowedOperations: []string{"create", "read", "update", "export"},
			DataAccess: map[Category]Scope{
				CategoryUsers:     ScopeSchoolOnly,
				CategoryStudents:  ScopeSchoolOnly,
				CategoryTeachers:  ScopeSchoolOnly,
				CategoryParents:   ScopeSchoolOnly,
				CategoryFinancial: ScopeSchoolOnly,
				CategorySystem:    ScopeNone,
			},
			Restrictions: []string{"no_system_management", "no_cross_school_access"},
			DeniedTypes:  []RequestType{TypeSystemManagement},
		},
		RoleTeacher: {
			Role:              RoleTeacher,
			Level:             LevelRestricted,
			AllowedOperations: []string{"read", "update"},
			DataAccess: map[Category]Scope{
				CategoryUsers:     ScopeNone,
				CategoryStudents:  ScopeOwnClassesOnly,
				CategoryTeachers:  ScopeNone,
				CategoryParents:   ScopeOwnClassesOnly,
				CategoryFinancial: ScopeNone,
				CategorySystem:    ScopeNone,
			},
			Restrictions: []string{"own_classes_only", "no_financial_data", "no_system_management"},
			DeniedTypes:  []RequestType{TypeSystemManagement, TypeFinancialAccess, TypeCrossPermissionAccess},
		},
		RoleParent: {
			Role:              RoleParent,
			Level:             LevelRestricted,
			AllowedOperations: []string{"read"},
			DataAccess: map[Category]Scope{
				CategoryUsers:     ScopeNone,
				CategoryStudents:  ScopeOwnChildrenOnly,
				CategoryTeachers:  ScopeNone,
				CategoryParents:   ScopeNone,
				CategoryFinancial: ScopeNone,
				CategorySystem:    ScopeNone,
			},
			Restrictions: []string{"own_children_only", "read_only"},
			DeniedTypes: []RequestType{
				TypeSystemManagement,
				TypeFinancialAccess,
				TypeCrossPermissionAccess,
				TypeUserDataAccess,
			},
		},
	}
}

// normalizeRole maps aliases onto table roles.
func normalizeRole(r Role) Role {
	if r == RoleSuperAdmin {
		return RoleAdmin
	}
	return r
}
