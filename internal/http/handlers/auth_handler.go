// Auth HTTP handlers.
//
//   - POST /auth/register  (create account, returns tokens)
//   - POST /auth/login     (credentials → tokens)
//   - POST /auth/refresh   (refresh token → new tokens)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Name     string `json:"name"     binding:"required"       example:"Ada Lovelace"`
	Email    string `json:"email"    binding:"required"       example:"ada@example.com"`
	Password string `json:"password" binding:"required,min=8" example:"correct-horse-battery"`
}

// LoginRequest is the JSON payload for signing in.
type LoginRequest struct {
	Email    string `json:"email"    binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct-horse-battery"`
}

// RefreshRequest is the JSON payload for rotating tokens.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Account"
// @Success     201   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409   {object}  handlers.ErrorResponse  "EMAIL_TAKEN"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, email and a password of at least 8 characters are required")
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		failService(c, err, ErrCodeAuthFailed)
		return
	}
	ok(c, http.StatusCreated, res)
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "INVALID_EMAIL or INVALID_PASSWORD"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failService(c, err, ErrCodeAuthFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// Refresh godoc
// @ID          refresh
// @Summary     Rotate tokens
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RefreshRequest  true  "Refresh token"
// @Success     200   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "INVALID_REFRESH_TOKEN"
// @Router      /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "refresh_token required")
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		failService(c, err, ErrCodeAuthFailed)
		return
	}
	ok(c, http.StatusOK, res)
}
