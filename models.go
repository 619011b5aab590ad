package account

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AnonymousName replaces first and last names on erasure
const AnonymousName = "anonymous"

// DefaultErasedEmailDomain is the domain of derived erasure emails
const DefaultErasedEmailDomain = "example.com"

// Field names used by validation errors, Fields patches and profile updates.
const (
	FieldID          = "id"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldNewPassword = "new_password"
	FieldNewEmail    = "new_email"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldPhone       = "phone_number"
	FieldSSOID       = "sso_id"
	FieldActionToken = "action_token"
)

// User is the account record
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash,nullzero" json:"-"`
	FirstName      string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName       string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Phone          string     `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	SSOID          string     `bun:"sso_id,nullzero" json:"-"`
	State          StateKind  `bun:"action_kind,notnull" json:"-"`
	ActionToken    string     `bun:"action_token,nullzero" json:"-"`
	ActionIssuedAt *time.Time `bun:"action_issued_at,nullzero" json:"-"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// AccountState returns the tagged state, active when unset.
func (u *User) AccountState() AccountState {
	if u == nil {
		return AccountState{Kind: StateNoAccount}
	}
	if u.State == "" {
		return Active()
	}
	return AccountState{Kind: u.State, Token: u.ActionToken}
}

// IsErased reports whether the account was anonymized
func (u *User) IsErased() bool {
	return u != nil && u.State == StateErased
}

// Clone returns a shallow copy safe to mutate.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ActionIssuedAt != nil {
		t := *u.ActionIssuedAt
		c.ActionIssuedAt = &t
	}
	return &c
}

// Profile is the readable projection of a User. It never carries the
// password hash, the action token or the SSO reference.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone_number,omitempty"`
}

// Profile returns the readable fields.
func (u *User) Profile() *Profile {
	if u == nil {
		return nil
	}
	return &Profile{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
}

// Fields is a column patch keyed by column name.
type Fields map[string]any

// AccountEvent is the persisted form of an ActivityEvent
type AccountEvent struct {
	bun.BaseModel `bun:"table:account_events,alias:evt"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id,omitempty"`
	UserID        string         `bun:"user_id,notnull" json:"user_id,omitempty"`
	EventType     string         `bun:"event_type,notnull" json:"event_type,omitempty"`
	ActorID       string         `bun:"actor_id" json:"actor_id,omitempty"`
	ActorType     string         `bun:"actor_type" json:"actor_type,omitempty"`
	FromState     string         `bun:"from_state" json:"from_state,omitempty"`
	ToState       string         `bun:"to_state" json:"to_state,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at,omitempty"`
}

// NormalizeEmail trims and lowercases an email for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ErasedEmail derives the one-way replacement email used after erasure.
func ErasedEmail(email, domain string) string {
	if domain == "" {
		domain = DefaultErasedEmailDomain
	}
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:]) + "@" + domain
}
