package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/config"
	"github.com/ldsaas/backend/internal/credential"
	"github.com/ldsaas/backend/internal/invite"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
)

// Token audiences.
const (
	AudienceAccess  = "access"
	AudienceRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid token")
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type Service interface {
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// AccountReader is the subset of the account repository used for sign-in.
type AccountReader interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type service struct {
	accounts AccountReader
	hasher   credential.Hasher
	clock    clock.Clock
	cfg      config.JWTConfig
	// decoy is verified against when there is no stored hash, so unknown
	// emails take as long as wrong passwords.
	decoy string
}

func NewService(accounts AccountReader, hasher credential.Hasher, clk clock.Clock, cfg config.JWTConfig) *service {
	if clk == nil {
		clk = clock.System{}
	}
	s := &service{accounts: accounts, hasher: hasher, clock: clk, cfg: cfg}
	if hasher != nil {
		s.decoy, _ = hasher.Hash(uuid.NewString())
	}
	return s
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	acc, err := s.accounts.GetByEmail(ctx, invite.NormalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Verify(password, s.decoy)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !acc.HasCredential() {
		s.hasher.Verify(password, s.decoy)
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, *acc.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !acc.IsEnabled {
		return nil, ErrInactive
	}
	return s.issuePair(acc.ID, acc.Role)
}

func (s *service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	id, _, err := s.parse(refreshToken, AudienceRefresh)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !acc.IsEnabled || !acc.HasCredential() {
		return nil, ErrInactive
	}
	// Role is re-read so a role change takes effect on refresh.
	return s.issuePair(acc.ID, acc.Role)
}

// ValidateToken accepts access tokens only.
func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	return s.parse(token, AudienceAccess)
}

func (s *service) issuePair(userID uuid.UUID, role string) (*TokenPair, error) {
	access, err := s.issueToken(userID, role, AudienceAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issueToken(userID, role, AudienceRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *service) issueToken(userID uuid.UUID, role, audience string) (string, error) {
	now := s.clock.Now()
	ttl := s.cfg.AccessTTL
	if audience == AudienceRefresh {
		ttl = s.cfg.RefreshTTL
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(s.cfg.Secret))
}

func (s *service) parse(token, audience string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, c.Role, nil
}
