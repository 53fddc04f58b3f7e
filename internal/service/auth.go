package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/latch/internal/model"
	"github.com/faucetdb/latch/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminInactive      = errors.New("admin account is disabled")
)

// MinPasswordLength is the shortest admin password accepted.
const MinPasswordLength = 8

// AdminStore is the persistence the auth service needs.
type AdminStore interface {
	CreateAdmin(ctx context.Context, admin *model.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	UpdateAdminLastLogin(ctx context.Context, email string) error
}

// JWTPrincipal is the identity carried by a validated session token.
type JWTPrincipal struct {
	Email string
}

type AuthService struct {
	store     AdminStore
	jwtSecret []byte
	logger    *slog.Logger
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithAuthLogger sets the logger for login bookkeeping failures.
func WithAuthLogger(l *slog.Logger) AuthOption {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewAuthService(store AdminStore, jwtSecret string, opts ...AuthOption) *AuthService {
	s := &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAdmin hashes password with bcrypt and stores a new active admin.
func (s *AuthService) CreateAdmin(ctx context.Context, email, name, password string) (*model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email required", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	admin := &model.Admin{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsActive:     true,
	}
	if err := s.store.CreateAdmin(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return admin, nil
}

// Authenticate verifies an email/password pair and records the login.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*model.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrAdminInactive
	}

	// Login bookkeeping must not fail the login itself.
	if err := s.store.UpdateAdminLastLogin(ctx, admin.Email); err != nil {
		s.logger.Warn("failed to record admin login", "email", admin.Email, "error", err)
	}
	return admin, nil
}

// ValidateJWT verifies a JWT bearer token and returns the associated admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.Email == "" {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{Email: claims.Email}, nil
}

// IssueJWT creates a new signed JWT token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

const jwtIssuer = "latch"

type jwtClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
