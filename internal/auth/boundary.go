package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/podari/internal/apperr"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/store"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID    int64
	Name      string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// Authenticator resolves bearer tokens to principals and manages credentials.
type Authenticator struct {
	DB       *sqlx.DB
	Secret   string
	TTL      time.Duration
	Revoked  RevocationList
	HashCost int
}

// NewAuthenticator returns an Authenticator. A nil revocation list falls back
// to the database table.
func NewAuthenticator(db *sqlx.DB, secret string, ttl time.Duration, revoked RevocationList) *Authenticator {
	if revoked == nil {
		revoked = &SQLRevocationList{DB: db}
	}
	return &Authenticator{DB: db, Secret: secret, TTL: ttl, Revoked: revoked}
}

var errUnauthenticated = apperr.New(apperr.CodeUnauthenticated, "invalid or expired token")

// Authenticate validates a bearer token and loads the caller's current role.
// The token must be correctly signed, unexpired, not revoked, and belong to
// an existing user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, apperr.New(apperr.CodeUnauthenticated, "missing bearer token")
	}

	claims, err := ValidateToken(a.Secret, token)
	if err != nil {
		return nil, errUnauthenticated
	}

	revoked, err := a.Revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if revoked {
		return nil, apperr.New(apperr.CodeUnauthenticated, "token has been revoked")
	}

	user, err := store.GetUser(ctx, a.DB, claims.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if user == nil {
		return nil, errUnauthenticated
	}

	p := &Principal{
		UserID:  user.ID,
		Name:    user.Name,
		Role:    user.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Authorize checks that the principal holds at least the required role.
func Authorize(p *Principal, role string) error {
	if p == nil {
		return apperr.New(apperr.CodeUnauthenticated, "not authenticated")
	}
	if !model.RoleAtLeast(p.Role, role) {
		return apperr.New(apperr.CodeForbidden, "insufficient permissions")
	}
	return nil
}

// Registration is the input for creating an account.
type Registration struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	Institution string `json:"institution"`
}

func (r *Registration) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Institution = strings.TrimSpace(r.Institution)
	if r.Role == "" {
		r.Role = model.RoleContributor
	}

	if r.Name == "" {
		return apperr.New(apperr.CodeValidation, "name is required")
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return apperr.New(apperr.CodeValidation, "a valid email is required")
	}
	if err := model.ValidatePassword(r.Password); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}
	if r.Role != model.RoleContributor && r.Role != model.RoleReviewer {
		return apperr.New(apperr.CodeValidation, "role must be contributor or reviewer")
	}
	return nil
}

// Register creates an account and returns it with a fresh token.
func (a *Authenticator) Register(ctx context.Context, r Registration) (*model.User, string, error) {
	if err := r.validate(); err != nil {
		return nil, "", err
	}

	hash, err := HashPassword(r.Password, a.HashCost)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	user, err := store.CreateUser(ctx, a.DB, r.Name, r.Email, hash, r.Role, r.Institution)
	if err != nil {
		if isDuplicate(err) {
			return nil, "", apperr.New(apperr.CodeValidation, "email is already registered")
		}
		return nil, "", apperr.Internal(err)
	}

	token, err := GenerateToken(a.Secret, a.TTL, user)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	slog.Info("user registered", "user", user.ID, "role", user.Role)
	return user, token, nil
}

// Login checks credentials and issues a token.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, "", apperr.New(apperr.CodeValidation, "email and password required")
	}

	user, err := store.GetUserByEmail(ctx, a.DB, email)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		slog.Warn("login failed", "email", email)
		return nil, "", apperr.New(apperr.CodeUnauthenticated, "invalid credentials")
	}

	token, err := GenerateToken(a.Secret, a.TTL, user)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}

	slog.Info("user logged in", "user", user.ID, "role", user.Role)
	return user, token, nil
}

// Logout revokes the principal's current token.
func (a *Authenticator) Logout(ctx context.Context, p *Principal) error {
	expires := p.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(TokenExpiry)
	}
	if err := a.Revoked.Revoke(ctx, p.TokenID, expires); err != nil {
		return apperr.Internal(fmt.Errorf("logging out: %w", err))
	}
	slog.Info("user logged out", "user", p.UserID)
	return nil
}

// ChangePassword replaces the principal's password after checking the
// current one.
func (a *Authenticator) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	if current == "" || next == "" {
		return apperr.New(apperr.CodeValidation, "current and new password required")
	}
	if err := model.ValidatePassword(next); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err.Error(), err)
	}

	user, err := store.GetUser(ctx, a.DB, p.UserID)
	if err != nil {
		return apperr.Internal(err)
	}
	if user == nil {
		return apperr.New(apperr.CodeNotFound, "user not found")
	}
	if !CheckPassword(user.PasswordHash, current) {
		return apperr.New(apperr.CodeUnauthenticated, "current password is incorrect")
	}

	hash, err := HashPassword(next, a.HashCost)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := store.UpdateUserPassword(ctx, a.DB, p.UserID, hash); err != nil {
		return apperr.Internal(err)
	}

	slog.Info("user changed own password", "user", p.UserID)
	return nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
