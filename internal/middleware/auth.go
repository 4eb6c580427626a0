package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/modules/auth/auth"
	"github.com/mx-space/insight/internal/modules/stats/ingest"
	"github.com/mx-space/insight/internal/pkg/response"
)

const ContextKeyIdentity = "identity"

// RequireAdmin rejects requests without a valid admin credential.
func RequireAdmin(verifier auth.CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		identity, err := verifier.VerifyCredential(token)
		if err != nil {
			response.Unauthorized(c)
			return
		}
		if !identity.IsAdmin() {
			response.Forbidden(c)
			return
		}
		c.Set(ContextKeyIdentity, identity)
		c.Next()
	}
}

// AdminDetector tells the tracker whether a request comes from an admin.
// An identity already set by RequireAdmin is reused.
func AdminDetector(verifier auth.CredentialVerifier) ingest.AdminFunc {
	return func(c *gin.Context) bool {
		if identity, ok := CurrentIdentity(c); ok {
			return identity.IsAdmin()
		}
		token := auth.TokenFromRequest(c)
		if token == "" {
			return false
		}
		identity, err := verifier.VerifyCredential(token)
		return err == nil && identity.IsAdmin()
	}
}

// CurrentIdentity returns the identity stored by RequireAdmin.
func CurrentIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}
