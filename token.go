package account

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy per action token.
const tokenBytes = 32

// TokenIssuer produces unguessable single use action tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// TokenIssuerFunc adapts a function to the TokenIssuer interface.
type TokenIssuerFunc func() (string, error)

// Issue implements TokenIssuer.
func (f TokenIssuerFunc) Issue() (string, error) {
	return f()
}

type randomTokenIssuer struct{}

func (randomTokenIssuer) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate action token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DefaultTokenIssuer reads from crypto/rand
var DefaultTokenIssuer TokenIssuer = randomTokenIssuer{}

// EncodeActionToken renders the single string form of a pending action,
// e.g. "pending-registration:<token>". Active accounts encode to "" and
// erased accounts to the bare kind.
func EncodeActionToken(kind StateKind, token string) string {
	switch kind {
	case StateActive, StateNoAccount, "":
		return ""
	case StateErased:
		return string(StateErased)
	}
	return string(kind) + ":" + token
}

// DecodeActionToken parses the single string form. It reports false for
// unknown kinds or token carrying kinds with an empty token.
func DecodeActionToken(value string) (AccountState, bool) {
	if value == "" {
		return AccountState{Kind: StateActive}, true
	}

	if value == string(StateErased) {
		return AccountState{Kind: StateErased}, true
	}

	for _, kind := range tokenKinds {
		prefix := string(kind) + ":"
		if len(value) > len(prefix) && value[:len(prefix)] == prefix {
			return AccountState{Kind: kind, Token: value[len(prefix):]}, true
		}
	}

	return AccountState{}, false
}
