package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-content-backend/internal/auth"
	"github.com/tbourn/go-content-backend/internal/services"
)

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tm, err := auth.NewTokenManager("0123456789abcdef0123456789abcdef", "content-api", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	h := New(Deps{Auth: &services.AuthService{DB: newHandlerDB(t), Tokens: tm}})

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	return r
}

func TestAuthFlow(t *testing.T) {
	r := newAuthRouter(t)

	w := do(t, r, http.MethodPost, "/auth/register", "", RegisterRequest{
		Name: "Ada", Email: "Ada@Example.com", Password: "correct-horse",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status=%d body=%s", w.Code, w.Body.String())
	}
	reg := decode[services.AuthResult](t, w)
	if reg.User == nil || reg.User.Email != "ada@example.com" || reg.Tokens.Access == "" || reg.Tokens.Refresh == "" {
		t.Fatalf("unexpected register result: %+v", reg)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("password hash leaked in response: %s", w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/auth/register", "", RegisterRequest{
		Name: "Ada again", Email: "ada@example.com", Password: "correct-horse",
	})
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeEmailTaken {
		t.Fatalf("duplicate register: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/auth/login", "", LoginRequest{Email: "ADA@example.com", Password: "correct-horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/auth/login", "", LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	if w.Code != http.StatusUnauthorized || errCode(t, w) != ErrCodeInvalidEmail {
		t.Fatalf("unknown email: status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/auth/login", "", LoginRequest{Email: "ada@example.com", Password: "wrong-horse"})
	if w.Code != http.StatusUnauthorized || errCode(t, w) != ErrCodeInvalidPassword {
		t.Fatalf("wrong password: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: reg.Tokens.Refresh})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decode[services.AuthResult](t, w); got.User == nil || got.User.ID != reg.User.ID {
		t.Fatalf("refresh returned another user: %+v", got)
	}

	// an access token is not a refresh token
	w = do(t, r, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: reg.Tokens.Access})
	if w.Code != http.StatusUnauthorized || errCode(t, w) != ErrCodeInvalidRefreshToken {
		t.Fatalf("access as refresh: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRegister_Validation(t *testing.T) {
	r := newAuthRouter(t)

	cases := []struct {
		name string
		body any
	}{
		{"empty", map[string]string{}},
		{"short password", RegisterRequest{Name: "A", Email: "a@example.com", Password: "short"}},
		{"bad email", RegisterRequest{Name: "A", Email: "not-an-email", Password: "long-enough"}},
		{"blank name", RegisterRequest{Name: "   ", Email: "a@example.com", Password: "long-enough"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/auth/register", "", tc.body)
			if w.Code != http.StatusBadRequest || errCode(t, w) != ErrCodeBadRequest {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}
