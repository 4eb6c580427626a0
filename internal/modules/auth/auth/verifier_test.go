package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtpkg "github.com/mx-space/insight/internal/pkg/jwt"
)

func TestVerifyCredential(t *testing.T) {
	tokens := jwtpkg.NewManager("secret")
	v := NewVerifier(tokens)
	admin, _ := tokens.Sign("owner", jwtpkg.RoleAdmin, time.Hour)
	viewer, _ := tokens.Sign("guest", "viewer", time.Hour)
	foreign, _ := jwtpkg.NewManager("other").Sign("owner", jwtpkg.RoleAdmin, time.Hour)

	tests := []struct {
		name    string
		token   string
		want    Identity
		wantErr bool
	}{
		{name: "admin", token: admin, want: Identity{SubjectID: "owner", Role: "admin"}},
		{name: "bearer prefix", token: "Bearer " + admin, want: Identity{SubjectID: "owner", Role: "admin"}},
		{name: "viewer", token: viewer, want: Identity{SubjectID: "guest", Role: "viewer"}},
		{name: "wrong secret", token: foreign, wantErr: true},
		{name: "empty", token: "  ", wantErr: true},
		{name: "garbage", token: "abc.def.ghi", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.VerifyCredential(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("VerifyCredential() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyCredential() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("VerifyCredential() = %+v, want %+v", got, tt.want)
			}
			if got.IsAdmin() != (tt.want.Role == "admin") {
				t.Errorf("IsAdmin() = %v", got.IsAdmin())
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{name: "header", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, want: "abc"},
		{name: "query", setup: func(r *http.Request) { r.URL.RawQuery = "token=q1" }, want: "q1"},
		{name: "cookie", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "insight-token", Value: "c1"}) }, want: "c1"},
		{name: "header wins", setup: func(r *http.Request) {
			r.Header.Set("Authorization", "h1")
			r.URL.RawQuery = "token=q1"
		}, want: "h1"},
		{name: "none", setup: func(*http.Request) {}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(c.Request)
			if got := TokenFromRequest(c); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
