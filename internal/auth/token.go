// Package auth handles the gateway session token: loading it from the
// conventional location and extracting the claims needed for scoping.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenPath is the conventional token location relative to $HOME.
const SessionTokenPath = ".skit/token"

// ReadSessionToken loads the saved gateway token. A missing file is not an
// error; it returns an empty token so callers can fall back to flags or
// stdin.
func ReadSessionToken() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("auth: resolve home: %w", err)
	}
	b, err := os.ReadFile(filepath.Join(home, SessionTokenPath))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("auth: read session token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// BearerHeader formats a token for the Authorization header.
func BearerHeader(token string) string {
	return "Bearer " + token
}

// OrgID extracts the org_id claim from a gateway token. The gateway verifies
// signatures; the client only needs the claim value for scoping database
// queries, so the token is parsed without verification.
func OrgID(token string) (int64, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("auth: parse token: %w", err)
	}
	raw, ok := claims["org_id"]
	if !ok {
		return 0, fmt.Errorf("auth: token has no org_id claim")
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case string:
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err != nil {
			return 0, fmt.Errorf("auth: non-numeric org_id claim %q", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("auth: unexpected org_id claim type %T", raw)
	}
}
