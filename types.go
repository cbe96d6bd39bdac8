package schoolauth

import (
	"context"
	"io"

	internalaudit "github.com/yyupcompany/kyyupgame-sub117/internal/audit"
	"github.com/yyupcompany/kyyupgame-sub117/permission"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
)

func (s AccountStatus) String() string {
	if s == AccountActive {
		return "active"
	}
	return "disabled"
}

// UserRecord is the account row returned by an IdentityStore.
type UserRecord struct {
	UserID         string
	Username       string
	Email          string
	PasswordHash   string
	Role           string
	KindergartenID string
	Status         AccountStatus
}

// IdentityStore is the read path into the user, role and permission
// tables. FindUserByID and FindUserByUsername return ErrUserNotFound (or an
// error wrapping it) when no row matches; any other error is treated as the
// store being unavailable.
type IdentityStore interface {
	FindUserByID(ctx context.Context, userID string) (UserRecord, error)
	// FindUserByUsername matches either the username or the email.
	FindUserByUsername(ctx context.Context, identifier string) (UserRecord, error)
	RolesOf(ctx context.Context, userID string) ([]string, error)
	PermissionsOf(ctx context.Context, roleCodes []string) ([]Permission, error)
	DataScopeOf(ctx context.Context, userID string) (DataScope, error)
}

// PasswordUpdater is implemented by identity stores that accept upgraded
// password hashes after login.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID         string `json:"id"`
	Username       string `json:"username"`
	Role           string `json:"role"`
	IsAdmin        bool   `json:"isAdmin"`
	KindergartenID string `json:"kindergartenId,omitempty"`
	// SessionHealed is set when the session record was missing and is
	// being recreated.
	SessionHealed bool `json:"-"`
}

// TokenPair is a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	TokenPair
	User Identity `json:"user"`
}

type (
	Permission = permission.Permission
	// PermissionEntry is a user's resolved roles and permissions.
	PermissionEntry = permission.Entry
	// InvalidationEvent names the cache entries a committed identity
	// mutation affects.
	InvalidationEvent = permission.Event
	InvalidationKind  = permission.Kind
)

type (
	Role        = rbac.Role
	RequestType = rbac.RequestType
	DataScope   = rbac.DataScope
	Target      = rbac.Target
	// AccessRequest describes the intent to authorize.
	AccessRequest = rbac.Request
	Decision      = rbac.Decision
)

// AuditRecord is one append-only audit entry.
type AuditRecord = internalaudit.Record

// AuditSink persists audit records.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit records.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit records into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit records as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
