package account

// StateKind tags the pending action of an account
type StateKind string

const (
	// StateNoAccount is the source state of a registration
	StateNoAccount StateKind = "no-account"
	// StateActive has no pending action
	StateActive StateKind = "active"
	// StatePendingRegistration awaits email verification, cannot login
	StatePendingRegistration StateKind = "pending-registration"
	// StateResetPending has a password reset in flight, login allowed
	StateResetPending StateKind = "reset-password-request"
	// StateBlocked was blocked by an administrator, cannot login
	StateBlocked StateKind = "account-blocked"
	// StateErased was anonymized, terminal
	StateErased StateKind = "gdpr-unsubscribed"
)

var tokenKinds = []StateKind{
	StatePendingRegistration,
	StateResetPending,
	StateBlocked,
}

// verificationKinds are the states a verification or reset link may consume.
var verificationKinds = []StateKind{
	StatePendingRegistration,
	StateResetPending,
}

// AccountState is the tagged variant stored in (action_kind, action_token).
type AccountState struct {
	Kind  StateKind
	Token string
}

// Active is the state without a pending action.
func Active() AccountState {
	return AccountState{Kind: StateActive}
}

// PendingRegistration awaiting verification of token.
func PendingRegistration(token string) AccountState {
	return AccountState{Kind: StatePendingRegistration, Token: token}
}

// ResetPending awaiting a password reset with token.
func ResetPending(token string) AccountState {
	return AccountState{Kind: StateResetPending, Token: token}
}

// Blocked marks an administratively blocked account.
func Blocked(token string) AccountState {
	return AccountState{Kind: StateBlocked, Token: token}
}

// Erased is the terminal anonymized state.
func Erased() AccountState {
	return AccountState{Kind: StateErased}
}

// HasToken reports whether the kind carries a token payload.
func (k StateKind) HasToken() bool {
	for _, kind := range tokenKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// CanLogin reports whether accounts in this state may authenticate.
func (k StateKind) CanLogin() bool {
	return k == StateActive || k == StateResetPending
}

func (k StateKind) String() string {
	return string(k)
}

// Encoded returns the single string form, see EncodeActionToken.
func (s AccountState) Encoded() string {
	return EncodeActionToken(s.Kind, s.Token)
}

// Matches does an exact match on kind and token.
func (s AccountState) Matches(kind StateKind, token string) bool {
	return token != "" && s.Kind == kind && s.Token == token
}
