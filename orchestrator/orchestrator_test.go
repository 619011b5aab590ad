package orchestrator_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	account "github.com/goliatone/go-account"
	"github.com/goliatone/go-account/orchestrator"
	"github.com/goliatone/go-account/session"
)

const password = "correct-horse-1"

type harness struct {
	accounts *account.Accounts
	sessions *session.MemoryStore
	orch     *orchestrator.Orchestrator
	mu       sync.Mutex
	issued   []string
}

func newHarness(t *testing.T, opts ...orchestrator.Option) *harness {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, account.CreateSchema(context.Background(), db))

	h := &harness{sessions: session.NewMemoryStore()}

	h.accounts = account.NewAccounts(account.NewRepositoryManager(db),
		account.WithBaseURL("https://app.example.com"),
		account.WithPasswordHasher(account.NewBcryptHasher(4)),
		account.WithLogger(account.NopLogger()),
		account.WithNotifier(account.MustNewNotifier(account.WithNotifierLogger(account.NopLogger()))),
		account.WithTokenIssuer(account.TokenIssuerFunc(func() (string, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			token := fmt.Sprintf("tok-%d", len(h.issued)+1)
			h.issued = append(h.issued, token)
			return token, nil
		})),
	)

	all := append([]orchestrator.Option{orchestrator.WithLogger(account.NopLogger())}, opts...)
	h.orch = orchestrator.New(h.accounts, h.sessions, all...)
	return h
}

func (h *harness) lastToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.issued) == 0 {
		return ""
	}
	return h.issued[len(h.issued)-1]
}

func (h *harness) do(t *testing.T, op, handle string, payload any) orchestrator.Response {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}

	return h.orch.Handle(context.Background(), orchestrator.Request{
		Operation: op,
		Session:   handle,
		Payload:   raw,
	})
}

// signup registers, verifies and logs in under handle.
func (h *harness) signup(t *testing.T, email, handle string) {
	t.Helper()

	res := h.do(t, orchestrator.OpRegister, "", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Message)

	res = h.do(t, orchestrator.OpVerifyEmail, "", map[string]string{"token": h.lastToken()})
	require.Equal(t, http.StatusOK, res.Code, res.Message)

	res = h.do(t, orchestrator.OpLogin, handle, map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, res.Code, res.Message)
}

func TestHandleUnknownOperation(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, "drop_tables", "", nil)
	assert.Equal(t, orchestrator.StatusError, res.Status)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, orchestrator.MessageUndefined, res.Message)
}

func TestHandleUserScopedWithoutSession(t *testing.T) {
	h := newHarness(t)

	for _, op := range []string{
		orchestrator.OpLogout,
		orchestrator.OpUnsubscribe,
		orchestrator.OpChangePassword,
		orchestrator.OpChangeEmail,
		orchestrator.OpUpdateProfile,
		orchestrator.OpProfile,
	} {
		res := h.do(t, op, "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, op)
		assert.Equal(t, account.ErrUnauthorized.Error(), res.Message, op)

		res = h.do(t, op, "missing-handle", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code, op)
	}
}

func TestHandleRegisterAndValidationErrors(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, orchestrator.OpRegister, "", map[string]string{
		"email":    "ada@example.com",
		"password": password,
	})
	assert.Equal(t, orchestrator.StatusError, res.Status)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, orchestrator.MessageValidationErrors, res.Message)
	assert.Equal(t, account.MsgRequired, res.Errors["first_name"])
	assert.Equal(t, account.MsgRequired, res.Errors["last_name"])

	res = h.do(t, orchestrator.OpRegister, "", map[string]string{
		"email":      "Ada@Example.com",
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	assert.Equal(t, orchestrator.StatusSuccess, res.Status)
	assert.Equal(t, http.StatusOK, res.Code)
	require.NotNil(t, res.User)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Empty(t, res.Errors)

	res = h.do(t, orchestrator.OpRegister, "", map[string]string{
		"email":      "ada@example.com",
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, account.MsgInUse, res.Errors["email"])
}

func TestHandleInvalidPayload(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Handle(context.Background(), orchestrator.Request{
		Operation: orchestrator.OpLogin,
		Payload:   json.RawMessage(`{"email": 42`),
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, orchestrator.MessageInvalidPayload, res.Message)
}

func TestHandleLoginStoresSession(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, orchestrator.OpRegister, "", map[string]string{
		"email":      "ada@example.com",
		"password":   password,
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = h.do(t, orchestrator.OpLogin, "h1", map[string]string{"email": "ada@example.com", "password": password})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, account.ErrPendingRegistration.Error(), res.Message)
	assert.Equal(t, 0, h.sessions.Len())

	res = h.do(t, orchestrator.OpVerifyEmail, "", map[string]string{"token": "bogus"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, account.ErrTokenExpiredOrInvalid.Error(), res.Message)

	res = h.do(t, orchestrator.OpVerifyEmail, "", map[string]string{"token": h.lastToken()})
	assert.Equal(t, http.StatusOK, res.Code)

	res = h.do(t, orchestrator.OpLogin, "h1", map[string]string{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, account.ErrInvalidCredentials.Error(), res.Message)

	unknown := h.do(t, orchestrator.OpLogin, "h1", map[string]string{"email": "who@example.com", "password": "nope"})
	assert.Equal(t, res, unknown)

	res = h.do(t, orchestrator.OpLogin, "h1", map[string]string{"email": "ada@example.com", "password": password})
	assert.Equal(t, http.StatusOK, res.Code)
	require.NotNil(t, res.User)

	record, err := h.sessions.Get(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, record.ID)

	res = h.do(t, orchestrator.OpProfile, "h1", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	require.NotNil(t, res.User)
	assert.Equal(t, "Ada", res.User.FirstName)

	res = h.do(t, orchestrator.OpLogout, "h1", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.User)

	res = h.do(t, orchestrator.OpProfile, "h1", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleEnvelopeOmitsEmptyFields(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, orchestrator.OpRequestResetPassword, "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, res.Code)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","code":200}`, string(raw))
}

func TestHandlePasswordReset(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	res := h.do(t, orchestrator.OpRequestResetPassword, "", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, res.Code)
	token := h.lastToken()

	res = h.do(t, orchestrator.OpResetPassword, "", map[string]string{"token": token, "new_password": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Errors, "new_password")

	res = h.do(t, orchestrator.OpResetPassword, "", map[string]string{"token": token, "new_password": "brand-new-secret"})
	assert.Equal(t, http.StatusOK, res.Code)

	res = h.do(t, orchestrator.OpResetPassword, "", map[string]string{"token": token, "new_password": "brand-new-secret"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, account.ErrTokenExpiredOrInvalid.Error(), res.Message)

	res = h.do(t, orchestrator.OpLogin, "h2", map[string]string{"email": "ada@example.com", "password": "brand-new-secret"})
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestHandleCredentialChanges(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	res := h.do(t, orchestrator.OpChangePassword, "h1", map[string]string{"password": "wrong", "new_password": "brand-new-secret"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(t, orchestrator.OpChangePassword, "h1", map[string]string{"password": password, "new_password": "brand-new-secret"})
	assert.Equal(t, http.StatusOK, res.Code)

	res = h.do(t, orchestrator.OpChangeEmail, "h1", map[string]string{"password": "brand-new-secret", "new_email": "bad"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, map[string]string{"new_email": account.MsgInvalidEmail}, res.Errors)

	res = h.do(t, orchestrator.OpChangeEmail, "h1", map[string]string{"password": "brand-new-secret", "new_email": "ada@newmail.com"})
	assert.Equal(t, http.StatusOK, res.Code)
	require.NotNil(t, res.User)
	assert.Equal(t, "ada@newmail.com", res.User.Email)
}

func TestHandleUpdateProfile(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	res := h.do(t, orchestrator.OpUpdateProfile, "h1", map[string]any{"sso_id": "x", "first_name": "Augusta"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, map[string]string{"sso_id": account.MsgNotWritable}, res.Errors)

	res = h.do(t, orchestrator.OpUpdateProfile, "h1", map[string]any{"first_name": 7})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, account.MsgInvalid, res.Errors["first_name"])

	res = h.do(t, orchestrator.OpUpdateProfile, "h1", map[string]any{"first_name": "Augusta"})
	assert.Equal(t, http.StatusOK, res.Code)
	require.NotNil(t, res.User)
	assert.Equal(t, "Augusta", res.User.FirstName)
}

func TestHandleUnsubscribeClearsSession(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	res := h.do(t, orchestrator.OpUnsubscribe, "h1", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	_, err := h.sessions.Get(context.Background(), "h1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	gone, err := h.accounts.IsGDPRUnsubscribed(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, gone)

	res = h.do(t, orchestrator.OpLogin, "h1", map[string]string{"email": "ada@example.com", "password": password})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleDropsSessionOfBlockedAccount(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	user, err := h.accounts.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	_, err = h.accounts.Block(context.Background(), account.SystemActor, user, "abuse")
	require.NoError(t, err)

	res := h.do(t, orchestrator.OpProfile, "h1", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestHandleCorruptSessionRecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.Put(context.Background(), "h1", session.Record{ID: "not-a-uuid"}))

	res := h.do(t, orchestrator.OpProfile, "h1", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestWithOperationExtendsTable(t *testing.T) {
	h := newHarness(t, orchestrator.WithOperation("ping", func(context.Context, *orchestrator.Call) (*account.User, error) {
		return nil, nil
	}, false))

	assert.Contains(t, h.orch.Operations(), "ping")

	res := h.do(t, "ping", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestHandleInternalErrorsAreGeneric(t *testing.T) {
	h := newHarness(t, orchestrator.WithOperation("boom", func(context.Context, *orchestrator.Call) (*account.User, error) {
		return nil, fmt.Errorf("%w: %w", account.ErrInternal, errors.New("disk on fire"))
	}, false))

	res := h.do(t, "boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, account.ErrInternal.Error(), res.Message)
}

func TestFromError(t *testing.T) {
	o := orchestrator.New(nil, nil, orchestrator.WithLogger(account.NopLogger()))

	cases := []struct {
		err     error
		code    int
		message string
	}{
		{nil, http.StatusOK, ""},
		{account.ErrTokenExpiredOrInvalid, http.StatusBadRequest, account.ErrTokenExpiredOrInvalid.Error()},
		{account.ErrBlocked, http.StatusUnauthorized, account.ErrBlocked.Error()},
		{account.ErrTerminalState, http.StatusBadRequest, account.ErrTerminalState.Error()},
		{account.ErrInvalidTransition, http.StatusBadRequest, account.ErrInvalidTransition.Error()},
		{errors.New("unexpected"), http.StatusInternalServerError, account.ErrInternal.Error()},
		{fmt.Errorf("%w: %w", account.ErrInternal, account.ErrNotFound), http.StatusInternalServerError, account.ErrInternal.Error()},
	}

	for _, tc := range cases {
		res := o.FromError("test", tc.err)
		assert.Equal(t, tc.code, res.Code, fmt.Sprint(tc.err))
		assert.Equal(t, tc.message, res.Message, fmt.Sprint(tc.err))
	}
}

func TestSessionRecordUsesUserID(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "ada@example.com", "h1")

	record, err := h.sessions.Get(context.Background(), "h1")
	require.NoError(t, err)
	_, err = uuid.Parse(record.ID)
	assert.NoError(t, err)
}
