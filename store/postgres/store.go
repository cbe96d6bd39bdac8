// Package postgres implements the identity store and an audit sink over
// PostgreSQL through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/permission"
)

var (
	_ schoolauth.IdentityStore   = (*Store)(nil)
	_ schoolauth.PasswordUpdater = (*Store)(nil)
	_ permission.RoleIndex       = (*Store)(nil)
	_ schoolauth.AuditSink       = (*Store)(nil)
)

// StatusActive is the users.status value of an enabled account.
const StatusActive = "active"

// Store reads users, roles, permissions and data scope from the school
// database.
type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const userColumns = `id, username, coalesce(email, ''), password, role, coalesce(kindergarten_id::text, ''), status`

func scanUser(row *sql.Row) (schoolauth.UserRecord, error) {
	var (
		u      schoolauth.UserRecord
		status string
	)
	if err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.KindergartenID, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schoolauth.UserRecord{}, schoolauth.ErrUserNotFound
		}
		return schoolauth.UserRecord{}, err
	}
	if status != StatusActive {
		u.Status = schoolauth.AccountDisabled
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (schoolauth.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id::text = $1 and deleted_at is null`, userID)
	return scanUser(row)
}

// FindUserByUsername matches the username or the email, case-insensitively.
func (s *Store) FindUserByUsername(ctx context.Context, identifier string) (schoolauth.UserRecord, error) {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where (lower(username) = $1 or lower(email) = $1) and deleted_at is null limit 1`, ident)
	return scanUser(row)
}

func (s *Store) RolesOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.code from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id::text = $1 and r.status = 1
		order by r.code`, userID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (s *Store) PermissionsOf(ctx context.Context, roleCodes []string) ([]schoolauth.Permission, error) {
	if len(roleCodes) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.code, coalesce(p.path, '') from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join roles r on r.id = rp.role_id
		where r.code in (`+placeholders(len(roleCodes))+`) and p.status = 1 and r.status = 1
		order by p.code`, anyArgs(roleCodes)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schoolauth.Permission
	for rows.Next() {
		var p schoolauth.Permission
		if err := rows.Scan(&p.Code, &p.Path); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DataScopeOf collects the classes a teacher is assigned to, the students
// in those classes, and the children a parent is linked to.
func (s *Store) DataScopeOf(ctx context.Context, userID string) (schoolauth.DataScope, error) {
	var scope schoolauth.DataScope
	err := s.db.QueryRowContext(ctx,
		`select coalesce(kindergarten_id::text, '') from users where id::text = $1`, userID,
	).Scan(&scope.KindergartenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schoolauth.DataScope{}, schoolauth.ErrUserNotFound
		}
		return schoolauth.DataScope{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select ct.class_id::text from class_teachers ct
		join teachers t on t.id = ct.teacher_id
		where t.user_id::text = $1 and ct.deleted_at is null
		order by 1`, userID)
	if err != nil {
		return schoolauth.DataScope{}, fmt.Errorf("classes: %w", err)
	}
	if scope.ClassIDs, err = scanStrings(rows); err != nil {
		return schoolauth.DataScope{}, fmt.Errorf("classes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		select s.id::text from students s
		join class_teachers ct on ct.class_id = s.class_id
		join teachers t on t.id = ct.teacher_id
		where t.user_id::text = $1 and ct.deleted_at is null and s.deleted_at is null
		union
		select psr.student_id::text from parent_student_relations psr
		join parents p on p.id = psr.parent_id
		where p.user_id::text = $1 and psr.deleted_at is null
		order by 1`, userID)
	if err != nil {
		return schoolauth.DataScope{}, fmt.Errorf("students: %w", err)
	}
	if scope.StudentIDs, err = scanStrings(rows); err != nil {
		return schoolauth.DataScope{}, fmt.Errorf("students: %w", err)
	}
	return scope, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password = $2, updated_at = now() where id::text = $1`, userID, hash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return schoolauth.ErrUserNotFound
	}
	return nil
}

// UsersWithRoles lists users holding any of roleCodes.
func (s *Store) UsersWithRoles(ctx context.Context, roleCodes []string) ([]string, error) {
	if len(roleCodes) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct ur.user_id::text from user_roles ur
		join roles r on r.id = ur.role_id
		where r.code in (`+placeholders(len(roleCodes))+`)
		order by 1`, anyArgs(roleCodes)...)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return slices.Compact(out), rows.Err()
}

// placeholders returns "$1,$2,...,$n".
func placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteByte(',')
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

func anyArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
