package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	internalaudit "github.com/yyupcompany/kyyupgame-sub117/internal/audit"
)

var userCols = []string{"id", "username", "email", "password", "role", "kindergarten_id", "status"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func TestFindUserByID(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from users where id::text = ").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("7", "teacher1", "t@school.test", "$argon2id$x", "teacher", "3", "active"))

	u, err := s.FindUserByID(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, schoolauth.UserRecord{
		UserID: "7", Username: "teacher1", Email: "t@school.test", PasswordHash: "$argon2id$x",
		Role: "teacher", KindergartenID: "3", Status: schoolauth.AccountActive,
	}, u)
}

func TestFindUserByUsernameNormalizes(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from users where .*lower.username").
		WithArgs("admin@school.test").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("1", "admin", "admin@school.test", "h", "admin", "", "inactive"))

	u, err := s.FindUserByUsername(context.Background(), "  Admin@School.test ")
	require.NoError(t, err)
	assert.Equal(t, "1", u.UserID)
	assert.Equal(t, schoolauth.AccountDisabled, u.Status)
}

func TestFindUserNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from users").WillReturnError(sql.ErrNoRows)

	_, err := s.FindUserByID(context.Background(), "404")
	assert.ErrorIs(t, err, schoolauth.ErrUserNotFound)
}

func TestFindUserStoreErrorIsNotNotFound(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery("select .* from users").WillReturnError(boom)

	_, err := s.FindUserByUsername(context.Background(), "admin")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, schoolauth.ErrUserNotFound)
}

func TestRolesOf(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select r.code from roles r").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("class_lead").AddRow("teacher"))

	roles, err := s.RolesOf(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []string{"class_lead", "teacher"}, roles)
}

func TestPermissionsOf(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select distinct p.code").
		WithArgs("teacher", "class_lead").
		WillReturnRows(sqlmock.NewRows([]string{"code", "path"}).
			AddRow("attendance.write", "").
			AddRow("students.read", "/api/students"))

	perms, err := s.PermissionsOf(context.Background(), []string{"teacher", "class_lead"})
	require.NoError(t, err)
	assert.Equal(t, []schoolauth.Permission{
		{Code: "attendance.write"},
		{Code: "students.read", Path: "/api/students"},
	}, perms)

	perms, err = s.PermissionsOf(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestDataScopeOf(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select coalesce.kindergarten_id").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"kindergarten_id"}).AddRow("3"))
	mock.ExpectQuery("select ct.class_id").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"class_id"}).AddRow("c1").AddRow("c2"))
	mock.ExpectQuery("select s.id::text from students").
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("11").AddRow("12"))

	scope, err := s.DataScopeOf(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, schoolauth.DataScope{
		KindergartenID: "3",
		ClassIDs:       []string{"c1", "c2"},
		StudentIDs:     []string{"11", "12"},
	}, scope)
}

func TestDataScopeOfPropagatesErrors(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select coalesce.kindergarten_id").
		WillReturnRows(sqlmock.NewRows([]string{"kindergarten_id"}).AddRow(""))
	mock.ExpectQuery("select ct.class_id").WillReturnError(errors.New("timeout"))

	_, err := s.DataScopeOf(context.Background(), "7")
	assert.ErrorContains(t, err, "classes: timeout")
}

func TestUpdatePasswordHash(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update users set password").
		WithArgs("7", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update users set password").
		WithArgs("8", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.UpdatePasswordHash(context.Background(), "7", "new-hash"))
	assert.ErrorIs(t, s.UpdatePasswordHash(context.Background(), "8", "new-hash"), schoolauth.ErrUserNotFound)
}

func TestUsersWithRoles(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select distinct ur.user_id").
		WithArgs("teacher").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("2").AddRow("7"))

	ids, err := s.UsersWithRoles(context.Background(), []string{"teacher"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "7"}, ids)
}

func TestAppendAudit(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := schoolauth.AuditRecord{
		ID:              "01HZX",
		UserID:          "7",
		Module:          "students",
		Action:          "update_students",
		OperationType:   internalaudit.OpUpdate,
		ResourceType:    "students",
		Description:     "PUT students",
		RequestMethod:   "PUT",
		RequestURL:      "/api/students/11",
		SanitizedParams: map[string]any{"name": "Lin"},
		IP:              "10.0.0.1",
		Result:          internalaudit.ResultSuccess,
		StatusCode:      200,
		ExecutionTimeMs: 12,
		CreatedAt:       at,
	}
	mock.ExpectExec("insert into operation_logs").
		WithArgs("01HZX", "7", "students", "update_students", "update", "students", nil,
			"PUT students", "PUT", "/api/students/11", []byte(`{"name":"Lin"}`), "10.0.0.1",
			"", "success", "", 200, int64(12), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Append(context.Background(), rec))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholders(1))
	assert.Equal(t, "$1,$2,$3", placeholders(3))
}
