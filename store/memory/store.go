// Package memory is an in-process identity store. It backs the example
// program and tests; production deployments use store/postgres.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// User is a seeded account together with its role assignments and data
// scope.
type User struct {
	schoolauth.UserRecord
	// Roles defaults to []string{UserRecord.Role} when empty.
	Roles []string
	Scope schoolauth.DataScope
}

// Store implements schoolauth.IdentityStore, schoolauth.PasswordUpdater and
// permission.RoleIndex over maps. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]User
	byIdent   map[string]string
	rolePerms map[string][]schoolauth.Permission
	failure   error
}

func New() *Store {
	return &Store{
		byID:      make(map[string]User),
		byIdent:   make(map[string]string),
		rolePerms: make(map[string][]schoolauth.Permission),
	}
}

func identKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PutUser inserts or replaces u.
func (s *Store) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[u.UserID]; ok {
		delete(s.byIdent, identKey(old.Username))
		delete(s.byIdent, identKey(old.Email))
	}
	if len(u.Roles) == 0 && u.Role != "" {
		u.Roles = []string{u.Role}
	}
	s.byID[u.UserID] = u
	if u.Username != "" {
		s.byIdent[identKey(u.Username)] = u.UserID
	}
	if u.Email != "" {
		s.byIdent[identKey(u.Email)] = u.UserID
	}
}

// SetRolePermissions replaces the permission set of role.
func (s *Store) SetRolePermissions(role string, perms ...schoolauth.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[role] = slices.Clone(perms)
}

// SetRoles replaces the role assignments of userID.
func (s *Store) SetRoles(userID string, roles ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return schoolauth.ErrUserNotFound
	}
	u.Roles = slices.Clone(roles)
	if len(roles) > 0 {
		u.Role = roles[0]
	}
	s.byID[userID] = u
	return nil
}

// SetStatus changes the account status of userID.
func (s *Store) SetStatus(userID string, status schoolauth.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return schoolauth.ErrUserNotFound
	}
	u.Status = status
	s.byID[userID] = u
	return nil
}

// SetFailure makes every read return err until it is cleared with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *Store) FindUserByID(_ context.Context, userID string) (schoolauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return schoolauth.UserRecord{}, s.failure
	}
	u, ok := s.byID[userID]
	if !ok {
		return schoolauth.UserRecord{}, fmt.Errorf("id %q: %w", userID, schoolauth.ErrUserNotFound)
	}
	return u.UserRecord, nil
}

func (s *Store) FindUserByUsername(_ context.Context, identifier string) (schoolauth.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return schoolauth.UserRecord{}, s.failure
	}
	id, ok := s.byIdent[identKey(identifier)]
	if !ok {
		return schoolauth.UserRecord{}, schoolauth.ErrUserNotFound
	}
	return s.byID[id].UserRecord, nil
}

func (s *Store) RolesOf(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, s.failure
	}
	u, ok := s.byID[userID]
	if !ok {
		return nil, schoolauth.ErrUserNotFound
	}
	return slices.Clone(u.Roles), nil
}

func (s *Store) PermissionsOf(_ context.Context, roleCodes []string) ([]schoolauth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, s.failure
	}
	var out []schoolauth.Permission
	for _, r := range roleCodes {
		out = append(out, s.rolePerms[r]...)
	}
	return out, nil
}

func (s *Store) DataScopeOf(_ context.Context, userID string) (schoolauth.DataScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return schoolauth.DataScope{}, s.failure
	}
	u, ok := s.byID[userID]
	if !ok {
		return schoolauth.DataScope{}, schoolauth.ErrUserNotFound
	}
	scope := u.Scope
	scope.ClassIDs = slices.Clone(scope.ClassIDs)
	scope.StudentIDs = slices.Clone(scope.StudentIDs)
	if scope.KindergartenID == "" {
		scope.KindergartenID = u.KindergartenID
	}
	return scope, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return schoolauth.ErrUserNotFound
	}
	u.PasswordHash = hash
	s.byID[userID] = u
	return nil
}

// UsersWithRoles lists users holding any of roleCodes.
func (s *Store) UsersWithRoles(_ context.Context, roleCodes []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, s.failure
	}
	var out []string
	for id, u := range s.byID {
		for _, r := range u.Roles {
			if slices.Contains(roleCodes, r) {
				out = append(out, id)
				break
			}
		}
	}
	slices.Sort(out)
	return out, nil
}
