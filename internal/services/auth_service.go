// Package services – AuthService
//
// AuthService registers users and exchanges credentials or refresh tokens
// for a new access/refresh token pair.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/auth"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/repo"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

// TokenIssuer issues and verifies token pairs.
type TokenIssuer interface {
	Issue(userID string) (auth.Tokens, error)
	VerifyRefresh(token string) (string, error)
}

// AuthResult is returned by every successful authentication.
type AuthResult struct {
	User   *domain.User `json:"user"`
	Tokens auth.Tokens  `json:"tokens"`
}

// AuthService implements register, login and refresh.
type AuthService struct {
	DB     *gorm.DB
	Tokens TokenIssuer
}

// Register creates an account and signs the user in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = repo.NormalizeEmail(email)
	if name == "" || utf8.RuneCountInString(password) < MinPasswordLen {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := repo.CreateUser(ctx, s.DB, name, email, hash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.issue(u)
}

// Login verifies the credentials. An unknown or inactive account yields
// ErrInvalidEmail, a wrong password ErrInvalidPassword.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidEmail
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidEmail
	}
	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidPassword
	}
	return s.issue(u)
}

// Refresh trades a valid refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	userID, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	u, err := repo.GetUserByID(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidRefreshToken
	}
	return s.issue(u)
}

func (s *AuthService) issue(u *domain.User) (*AuthResult, error) {
	toks, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, Tokens: toks}, nil
}
