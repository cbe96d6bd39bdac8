package memory

import (
	"context"
	"errors"
	"testing"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

func seeded() *Store {
	s := New()
	s.PutUser(User{UserRecord: schoolauth.UserRecord{UserID: "1", Username: "Alice", Email: "alice@school.test", Role: "teacher", KindergartenID: "k1"},
		Scope: schoolauth.DataScope{ClassIDs: []string{"c1"}}})
	s.PutUser(User{UserRecord: schoolauth.UserRecord{UserID: "2", Username: "bob", Role: "parent"}, Roles: []string{"parent", "teacher"}})
	s.SetRolePermissions("teacher", schoolauth.Permission{Code: "students.read"})
	s.SetRolePermissions("parent", schoolauth.Permission{Code: "children.read"})
	return s
}

func TestLookupByUsernameOrEmail(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	for _, ident := range []string{"alice", " ALICE ", "Alice@School.test"} {
		u, err := s.FindUserByUsername(ctx, ident)
		if err != nil || u.UserID != "1" {
			t.Fatalf("%q: %+v %v", ident, u, err)
		}
	}
	if _, err := s.FindUserByUsername(ctx, "carol"); !errors.Is(err, schoolauth.ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	if _, err := s.FindUserByID(ctx, "9"); !errors.Is(err, schoolauth.ErrUserNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestRolesAndPermissions(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	roles, err := s.RolesOf(ctx, "1")
	if err != nil || len(roles) != 1 || roles[0] != "teacher" {
		t.Fatalf("roles: %v %v", roles, err)
	}
	perms, err := s.PermissionsOf(ctx, []string{"parent", "teacher"})
	if err != nil || len(perms) != 2 {
		t.Fatalf("perms: %v %v", perms, err)
	}
	users, err := s.UsersWithRoles(ctx, []string{"teacher"})
	if err != nil || len(users) != 2 || users[0] != "1" || users[1] != "2" {
		t.Fatalf("users with roles: %v %v", users, err)
	}
}

func TestDataScopeIsCopied(t *testing.T) {
	s := seeded()
	scope, err := s.DataScopeOf(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if scope.KindergartenID != "k1" {
		t.Fatalf("kindergarten not filled: %+v", scope)
	}
	scope.ClassIDs[0] = "mutated"
	again, _ := s.DataScopeOf(context.Background(), "1")
	if again.ClassIDs[0] != "c1" {
		t.Fatal("scope shares backing array with caller")
	}
}

func TestFailureInjection(t *testing.T) {
	s := seeded()
	boom := errors.New("connection refused")
	s.SetFailure(boom)
	if _, err := s.FindUserByID(context.Background(), "1"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.SetFailure(nil)
	if _, err := s.FindUserByID(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
}

func TestMutations(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	if err := s.SetStatus("1", schoolauth.AccountDisabled); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePasswordHash(ctx, "1", "$argon2id$new"); err != nil {
		t.Fatal(err)
	}
	u, _ := s.FindUserByID(ctx, "1")
	if u.Status != schoolauth.AccountDisabled || u.PasswordHash != "$argon2id$new" {
		t.Fatalf("unexpected record: %+v", u)
	}
	if err := s.SetRoles("1", "principal"); err != nil {
		t.Fatal(err)
	}
	if u, _ := s.FindUserByID(ctx, "1"); u.Role != "principal" {
		t.Fatalf("role = %q", u.Role)
	}
	if err := s.SetStatus("9", schoolauth.AccountActive); !errors.Is(err, schoolauth.ErrUserNotFound) {
		t.Fatalf("missing user: %v", err)
	}

	s.PutUser(User{UserRecord: schoolauth.UserRecord{UserID: "1", Username: "alicia"}})
	if _, err := s.FindUserByUsername(ctx, "alice"); !errors.Is(err, schoolauth.ErrUserNotFound) {
		t.Fatal("old username must be unindexed on replace")
	}
}
