package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/medchat/internal/apperr"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/internal/store"
)

// SessionCookie carries the credential for browser clients that cannot set
// headers on the websocket handshake.
const SessionCookie = "session"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type Service struct {
	users     store.UserStore
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func New(users store.UserStore, jwtSecret string) *Service {
	return NewWithTokenTTL(users, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(users store.UserStore, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if len(username) < 3 || len(username) > 50 {
		return nil, apperr.New(apperr.Validation, "username must be between 3 and 50 characters")
	}
	if !usernamePattern.MatchString(username) {
		return nil, apperr.New(apperr.Validation, "username can only contain letters, numbers, dots, dashes and underscores")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.Validation, "invalid email address")
	}

	if len(in.Password) < 6 {
		return nil, apperr.New(apperr.Validation, "password must be at least 6 characters")
	}

	// admins are provisioned out of band
	if in.Role != models.RolePatient && in.Role != models.RoleDoctor {
		return nil, apperr.New(apperr.Validation, "role must be patient or doctor")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         in.Role,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.Conflict, "username or email already exists")
		}
		return nil, apperr.Store(err)
	}

	return u, nil
}

var errInvalidCredentials = apperr.New(apperr.AuthenticationRequired, "invalid username or password")

func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	u, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, errInvalidCredentials
	}
	if err != nil {
		return "", nil, apperr.Store(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, errInvalidCredentials
	}
	if !u.IsActive {
		return "", nil, errInvalidCredentials
	}

	token, err := s.GenerateToken(u)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, u, nil
}

func (s *Service) GenerateToken(u *models.User) (string, error) {
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// ResolveSession turns an opaque credential into the identity of an active
// user. The role comes from the stored user, not from the token.
func (s *Service) ResolveSession(ctx context.Context, credential string) (models.Identity, error) {
	if credential == "" {
		return models.Identity{}, apperr.ErrAuthenticationRequired
	}

	claims, err := s.ValidateToken(credential)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.AuthenticationRequired, "Authentication required", err)
	}

	u, err := s.users.FindUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Identity{}, apperr.ErrAuthenticationRequired
	}
	if err != nil {
		return models.Identity{}, apperr.Store(err)
	}
	if !u.IsActive {
		return models.Identity{}, apperr.ErrAuthenticationRequired
	}

	return models.Identity{UserID: u.ID, Role: u.Role}, nil
}

// CredentialFromRequest extracts the credential reference from a bearer
// header, the token query parameter or the session cookie, in that order.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
