// Package auth verifies the bearer credentials of admin observers.
package auth

import (
	"errors"
	"strings"

	jwtpkg "github.com/mx-space/insight/internal/pkg/jwt"
)

// ErrUnauthorized is returned for missing, malformed or expired credentials.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is the subject a credential was issued to.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == jwtpkg.RoleAdmin }

// CredentialVerifier resolves a raw token into an Identity.
type CredentialVerifier interface {
	VerifyCredential(token string) (Identity, error)
}

// Verifier checks HS256 tokens signed by the configured secret.
type Verifier struct {
	tokens *jwtpkg.Manager
}

func NewVerifier(tokens *jwtpkg.Manager) *Verifier {
	return &Verifier{tokens: tokens}
}

// VerifyCredential accepts a bare token or a "Bearer <token>" value.
func (v *Verifier) VerifyCredential(token string) (Identity, error) {
	token = NormalizeToken(token)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}
	claims, err := v.tokens.Parse(token)
	if err != nil {
		return Identity{}, errors.Join(ErrUnauthorized, err)
	}
	return Identity{SubjectID: claims.UserID, Role: strings.ToLower(claims.Role)}, nil
}
