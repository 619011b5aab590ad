package account_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	account "github.com/goliatone/go-account"
)

// MockUsers implements account.Users
type MockUsers struct {
	mock.Mock
}

var _ account.Users = (*MockUsers)(nil)

func (m *MockUsers) GetByID(ctx context.Context, id uuid.UUID) (*account.User, error) {
	args := m.Called(ctx, id)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*account.User, error) {
	args := m.Called(ctx, tx, id)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	args := m.Called(ctx, email)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*account.User, error) {
	args := m.Called(ctx, tx, email)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) GetByActionToken(ctx context.Context, state account.AccountState) (*account.User, error) {
	args := m.Called(ctx, state)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) EmailExists(ctx context.Context, email string, exclude uuid.UUID) (bool, error) {
	args := m.Called(ctx, email, exclude)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) Insert(ctx context.Context, user *account.User) (*account.User, error) {
	args := m.Called(ctx, user)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) InsertTx(ctx context.Context, tx bun.IDB, user *account.User) (*account.User, error) {
	args := m.Called(ctx, tx, user)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) Update(ctx context.Context, id uuid.UUID, fields account.Fields) (*account.User, error) {
	args := m.Called(ctx, id, fields)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) UpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, fields account.Fields) (*account.User, error) {
	args := m.Called(ctx, tx, id, fields)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) UpdateState(ctx context.Context, id uuid.UUID, from account.AccountState, fields account.Fields) (*account.User, error) {
	args := m.Called(ctx, id, from, fields)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) UpdateStateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, from account.AccountState, fields account.Fields) (*account.User, error) {
	args := m.Called(ctx, tx, id, from, fields)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) ConsumeActionToken(ctx context.Context, kinds []account.StateKind, token string, notBefore *time.Time, fields account.Fields) (*account.User, error) {
	args := m.Called(ctx, kinds, token, notBefore, fields)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUsers) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUsers) CountErased(ctx context.Context, erasedEmail string) (int, error) {
	args := m.Called(ctx, erasedEmail)
	return args.Int(0), args.Error(1)
}

func userArg(args mock.Arguments, idx int) *account.User {
	if u, ok := args.Get(idx).(*account.User); ok {
		return u
	}
	return nil
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

// recordingSender captures every message handed to the transport.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{To: to, Subject: subject, Body: body})
	return r.err
}

func (r *recordingSender) Messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentMessage, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *recordingSender) Last() sentMessage {
	msgs := r.Messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

// sequentialTokens issues tok-1, tok-2, ...
type sequentialTokens struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialTokens) Issue() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("tok-%d", s.n), nil
}

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []account.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event account.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []account.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]account.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, account.CreateSchema(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

type fixture struct {
	db       *bun.DB
	repo     account.RepositoryManager
	accounts *account.Accounts
	sender   *recordingSender
	tokens   *sequentialTokens
	sink     *recordingSink
	now      time.Time
	base     []account.Option
}

func (f *fixture) clock() time.Time {
	return f.now
}

func newFixture(t *testing.T, opts ...account.Option) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:     db,
		repo:   account.NewRepositoryManager(db),
		sender: &recordingSender{},
		tokens: &sequentialTokens{},
		sink:   &recordingSink{},
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	f.base = []account.Option{
		account.WithBaseURL("https://app.example.com"),
		account.WithPasswordHasher(account.NewBcryptHasher(4)),
		account.WithTokenIssuer(f.tokens),
		account.WithNotifier(account.MustNewNotifier(
			account.WithSender(f.sender),
			account.WithNotifierLogger(account.NopLogger()),
		)),
		account.WithActivitySink(account.MultiActivitySink(f.sink, f.repo.Events())),
		account.WithLogger(account.NopLogger()),
		account.WithClock(func() time.Time { return f.clock() }),
	}

	f.configure(opts...)
	return f
}

// configure rebuilds the service over the same database.
func (f *fixture) configure(opts ...account.Option) {
	all := append([]account.Option{}, f.base...)
	f.accounts = account.NewAccounts(f.repo, append(all, opts...)...)
}

func (f *fixture) register(t *testing.T, email, password string) *account.User {
	t.Helper()
	user, err := f.accounts.Register(context.Background(), account.RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) registerActive(t *testing.T, email, password string) *account.User {
	t.Helper()
	user := f.register(t, email, password)
	verified, err := f.accounts.VerifyEmail(context.Background(), user.ActionToken)
	require.NoError(t, err)
	return verified
}
