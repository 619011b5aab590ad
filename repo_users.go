package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Users is the persistence collaborator for account records. Insert must
// be atomic with respect to the email unique key and ConsumeActionToken
// must check and clear a token in a single statement.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetByActionToken(ctx context.Context, state AccountState) (*User, error)
	EmailExists(ctx context.Context, email string, exclude uuid.UUID) (bool, error)

	Insert(ctx context.Context, user *User) (*User, error)
	InsertTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Update(ctx context.Context, id uuid.UUID, fields Fields) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, fields Fields) (*User, error)
	UpdateState(ctx context.Context, id uuid.UUID, from AccountState, fields Fields) (*User, error)
	UpdateStateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from AccountState, fields Fields) (*User, error)
	ConsumeActionToken(ctx context.Context, kinds []StateKind, token string, notBefore *time.Time, fields Fields) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CountErased(ctx context.Context, erasedEmail string) (int, error)
}

type users struct {
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository returns the bun backed Users repository
func NewUsersRepository(db *bun.DB) Users {
	return &users{db: db}
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return record, nil
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return record, nil
}

// GetByActionToken matches kind and token exactly, never the token alone.
func (a *users) GetByActionToken(ctx context.Context, state AccountState) (*User, error) {
	if state.Token == "" || !state.Kind.HasToken() {
		return nil, ErrNotFound
	}

	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.action_kind = ?", string(state.Kind)).
		Where("?TableAlias.action_token = ?", state.Token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return record, nil
}

func (a *users) EmailExists(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	q := a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email))

	if exclude != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", exclude)
	}

	return q.Exists(ctx)
}

func (a *users) Insert(ctx context.Context, user *User) (*User, error) {
	return a.InsertTx(ctx, a.db, user)
}

func (a *users) InsertTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)

	if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %q", ErrConflict, user.Email)
		}
		return nil, err
	}

	return user, nil
}

func (a *users) Update(ctx context.Context, id uuid.UUID, fields Fields) (*User, error) {
	return a.UpdateTx(ctx, a.db, id, fields)
}

func (a *users) UpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, fields Fields) (*User, error) {
	if len(fields) == 0 {
		return a.GetByIDTx(ctx, tx, id)
	}

	record := &User{}
	q := tx.NewUpdate().
		Model(record).
		Where("?TableAlias.id = ?", id)
	q = applyFields(q, fields)

	if err := q.Returning("*").Scan(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, mapNoRows(err)
	}

	return record, nil
}

func (a *users) UpdateState(ctx context.Context, id uuid.UUID, from AccountState, fields Fields) (*User, error) {
	return a.UpdateStateTx(ctx, a.db, id, from, fields)
}

// UpdateStateTx applies fields only while the stored (action_kind,
// action_token) pair still equals from. ErrNotFound means the record is
// gone or its state moved on.
func (a *users) UpdateStateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from AccountState, fields Fields) (*User, error) {
	record := &User{}
	q := tx.NewUpdate().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.action_kind = ?", string(from.Kind))

	if from.Token == "" {
		q = q.Where("?TableAlias.action_token IS NULL")
	} else {
		q = q.Where("?TableAlias.action_token = ?", from.Token)
	}

	q = applyFields(q, fields)

	if err := q.Returning("*").Scan(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, mapNoRows(err)
	}

	return record, nil
}

// ConsumeActionToken moves the record holding (kind, token), kind being any
// of kinds, back to active and applies fields in the same statement. Only
// one concurrent caller can match a given token.
func (a *users) ConsumeActionToken(ctx context.Context, kinds []StateKind, token string, notBefore *time.Time, fields Fields) (*User, error) {
	if token == "" || len(kinds) == 0 {
		return nil, ErrNotFound
	}

	patch := Fields{}
	for k, v := range fields {
		patch[k] = v
	}
	patch["action_kind"] = string(StateActive)
	patch["action_token"] = nil
	patch["action_issued_at"] = nil

	record := &User{}
	q := a.db.NewUpdate().
		Model(record).
		Where("?TableAlias.action_token = ?", token).
		Where("?TableAlias.action_kind IN (?)", bun.In(kindStrings(kinds)))

	if notBefore != nil {
		q = q.Where("?TableAlias.action_issued_at >= ?", notBefore.UTC())
	}

	q = applyFields(q, patch)

	if err := q.Returning("*").Scan(ctx); err != nil {
		return nil, mapNoRows(err)
	}

	return record, nil
}

func (a *users) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewDelete().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *users) CountErased(ctx context.Context, erasedEmail string) (int, error) {
	return a.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", erasedEmail).
		Where("?TableAlias.action_kind = ?", string(StateErased)).
		Count(ctx)
}

func kindStrings(kinds []StateKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func applyFields(q *bun.UpdateQuery, fields Fields) *bun.UpdateQuery {
	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		if fields[col] == nil {
			q = q.Set("? = NULL", bun.Ident(col))
			continue
		}
		q = q.Set("? = ?", bun.Ident(col), fields[col])
	}
	return q
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.State == "" {
		record.State = StateActive
	}

	record.Email = NormalizeEmail(record.Email)

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
