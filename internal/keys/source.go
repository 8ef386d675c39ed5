package keys

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrIllegalState reports an operation attempted in a state that forbids
// it, such as exchanging a session token on an account that already has
// one. Callers should use errors.Is(err, ErrIllegalState).
var ErrIllegalState = errors.New("illegal state")

// OAuthTokens is the credential pair the network client hands back after
// a session-token exchange.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
}

// ScopedKeyData describes the key material available for one scope.
type ScopedKeyData struct {
	// KeyRotationTimestamp is the server-side rotation time, in
	// milliseconds. It becomes the first half of the key ID.
	KeyRotationTimestamp int64
}

// NetworkClient is the account front end the store consumes. It performs
// the HTTP legwork; this package only reads the results. Implementations
// live outside this module.
type NetworkClient interface {
	// DuplicateSession clones a valid session server-side and returns
	// the new session token.
	DuplicateSession(ctx context.Context, sessionToken string) (string, error)

	// OAuthTokensFromSession trades a session token for OAuth tokens
	// covering the given scopes.
	OAuthTokensFromSession(ctx context.Context, sessionToken string, scopes []string) (OAuthTokens, error)

	// ScopedKeyData fetches key metadata for a scope.
	ScopedKeyData(ctx context.Context, sessionToken, scope string) (ScopedKeyData, error)
}

// Source produces the key bundle that protects a collection family.
// The key-derivation scheme behind it is out of this module's scope.
type Source interface {
	// BundleForCollection returns the bundle used to encrypt and
	// decrypt envelopes of the named collection.
	BundleForCollection(ctx context.Context, collection string) (*Bundle, error)
}

// FormatKeyID renders the wire key identifier for a rotation timestamp
// and the raw kXCS bytes: "<rotation_timestamp>-<base64url(kXCS)>".
func FormatKeyID(rotationTimestamp int64, kXCS []byte) string {
	encoded := base64.RawURLEncoding.EncodeToString(kXCS)

	return fmt.Sprintf("%d-%s", rotationTimestamp, encoded)
}
