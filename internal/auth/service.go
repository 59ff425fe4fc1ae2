package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"OpenMCP-Orchestrator/pkg/logger"
)

const defaultTokenTTL = 12 * time.Hour

// Service issues and verifies HS256 bearer tokens.
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	audit    *slog.Logger
}

// claims is the JWT payload: registered claims plus a permission list.
type claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

// NewService validates the configuration and builds a Service.
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:     mode,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TokenTTL,
		now:      time.Now,
		audit:    logger.Audit(),
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTokenTTL
	}
	switch mode {
	case ModeDisabled:
	case ModeJWT:
		if len(cfg.Secret) < 16 {
			return nil, errors.New("jwt secret must be at least 16 bytes")
		}
		svc.secret = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
	return svc, nil
}

// Mode returns the configured mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken signs a token for subject carrying the given permissions. A
// non-positive ttl uses the configured default.
func (s *Service) IssueToken(subject string, permissions []string, ttl time.Duration) (string, time.Time, error) {
	if s == nil || s.mode != ModeJWT {
		return "", time.Time{}, errors.New("token issuance requires jwt mode")
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	expires := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Permissions: append([]string(nil), permissions...),
	}
	if s.audience != "" {
		c.Audience = jwt.ClaimStrings{s.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	s.audit.Info("token_issued",
		"subject", subject,
		"permissions", strings.Join(permissions, ","),
		"expires_at", expires.UTC().Format(time.RFC3339),
	)
	return signed, expires, nil
}

// AuthenticateRequest verifies an Authorization header value.
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return NewSubject("anonymous", []string{PermissionRunsWrite, PermissionRunsApprove}), nil
	}
	raw := strings.TrimSpace(authorization)
	if raw == "" {
		return nil, ErrMissingToken
	}
	const prefix = "bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return nil, ErrInvalidToken
	}
	return s.Verify(strings.TrimSpace(raw[len(prefix):]))
}

// Verify parses and validates a signed token.
func (s *Service) Verify(token string) (*Subject, error) {
	var c claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// jwt/v4 only checks exp/nbf/iat in Valid; issuer and audience are ours.
	if s.issuer != "" && !c.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if s.audience != "" && !c.VerifyAudience(s.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	subject := NewSubject(c.Subject, c.Permissions)
	if c.ExpiresAt != nil {
		subject.ExpiresAt = c.ExpiresAt.Time
	}
	return subject, nil
}
