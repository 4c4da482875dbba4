package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by every credential. Tenant is empty for platform credentials.
type Claims struct {
	UserID string `json:"user_id"`
	Tenant string `json:"tenant,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig selects the signing key and algorithm
type TokenConfig struct {
	Secret    string
	Issuer    string
	Algorithm string // HS256, HS384 or HS512
	Leeway    time.Duration
}

type TokenManager struct {
	secret []byte
	issuer string
	method jwt.SigningMethod
	leeway time.Duration
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tenantrouter"
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
	return &TokenManager{secret: []byte(cfg.Secret), issuer: cfg.Issuer, method: method, leeway: cfg.Leeway}, nil
}

// GenerateToken mints a credential. An empty tenant yields a platform credential.
func (tm *TokenManager) GenerateToken(userID, tenant, email, role string, expiresIn time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id required")
	}
	if expiresIn <= 0 {
		return "", fmt.Errorf("expiry must be positive")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Tenant: strings.ToLower(tenant),
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			Issuer:    tm.issuer,
		},
	}
	return jwt.NewWithClaims(tm.method, claims).SignedString(tm.secret)
}

// ValidateToken checks signature, algorithm, issuer and expiry. Tokens without
// an expiry are rejected.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{tm.method.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tm.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token failed: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id claim")
	}
	return claims, nil
}

func ExtractToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}
