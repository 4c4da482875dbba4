package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/repository"
)

func newTokens(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(TokenConfig{Secret: "test-secret", Issuer: "tenantrouter-test"})
	require.NoError(t, err)
	return tm
}

func TestNewTokenManagerRejectsBadConfig(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{})
	assert.Error(t, err)
	_, err = NewTokenManager(TokenConfig{Secret: "s", Algorithm: "RS256"})
	assert.Error(t, err)
	_, err = NewTokenManager(TokenConfig{Secret: "s", Algorithm: "HS512"})
	assert.NoError(t, err)
}

func TestTenantCredential(t *testing.T) {
	tm := newTokens(t)
	v := NewValidator(tm, nil, nil)

	tok, err := tm.GenerateToken("u-1", "ACME", "a@acme.test", "member", time.Minute)
	require.NoError(t, err)

	id, err := v.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, "acme", id.Tenant)
	assert.False(t, id.Platform())

	assert.NoError(t, CheckTenant(id, "acme"))
	assert.ErrorIs(t, CheckTenant(id, "beta"), domain.ErrCredentialTenantMismatch)
}

func TestRejectsExpiredForeignAndUnsignedTokens(t *testing.T) {
	tm := newTokens(t)
	v := NewValidator(tm, nil, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-1", Tenant: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tenantrouter-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-1", Tenant: "acme",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tenantrouter-test"},
	})
	other, err := NewTokenManager(TokenConfig{Secret: "other-secret", Issuer: "tenantrouter-test"})
	require.NoError(t, err)
	foreign, err := other.GenerateToken("u-1", "acme", "", "", time.Minute)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   mustSign(t, expired),
		"no expiry": mustSign(t, noExpiry),
		"foreign":   foreign,
		"garbage":   "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Authenticate(context.Background(), tok)
			assert.ErrorIs(t, err, domain.ErrInvalidCredential)
		})
	}
}

func mustSign(t *testing.T, tok *jwt.Token) string {
	t.Helper()
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestPlatformCredentialRequiresActiveUser(t *testing.T) {
	tm := newTokens(t)
	users := repository.NewMemoryUserRepository()
	active := &domain.User{Email: "ops@example.com", Role: "admin", IsActive: true}
	disabled := &domain.User{Email: "old@example.com", Role: "admin", IsActive: false}
	require.NoError(t, users.Create(context.Background(), active))
	require.NoError(t, users.Create(context.Background(), disabled))
	v := NewValidator(tm, users, nil)

	tok, err := tm.GenerateToken(active.ID, "", active.Email, "", time.Minute)
	require.NoError(t, err)
	id, err := v.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, id.Platform())
	assert.Equal(t, "admin", id.Role)
	assert.NoError(t, CheckTenant(id, "acme"))

	tok, err = tm.GenerateToken(disabled.ID, "", disabled.Email, "", time.Minute)
	require.NoError(t, err)
	_, err = v.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	tok, err = tm.GenerateToken("ghost", "", "", "", time.Minute)
	require.NoError(t, err)
	_, err = v.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	_, err = NewValidator(tm, nil, nil).Authenticate(context.Background(), mustToken(t, tm, active.ID))
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func mustToken(t *testing.T, tm *TokenManager, userID string) string {
	t.Helper()
	tok, err := tm.GenerateToken(userID, "", "", "", time.Minute)
	require.NoError(t, err)
	return tok
}

func TestExtractToken(t *testing.T) {
	tok, err := ExtractToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = ExtractToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, bad := range []string{"", "Bearer", "Basic abc", "Bearer  "} {
		_, err := ExtractToken(bad)
		assert.Error(t, err, bad)
	}
}

type countingUsers struct {
	domain.UserRepository
	delay time.Duration
	calls int
}

func (u *countingUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u.calls++
	if u.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.delay):
		}
	}
	return u.UserRepository.GetByID(ctx, id)
}

func TestPlatformCredentialWithMalformedUserIDIsNotLookedUp(t *testing.T) {
	tm := newTokens(t)
	users := &countingUsers{UserRepository: repository.NewMemoryUserRepository()}
	v := NewValidator(tm, users, nil)

	_, err := v.Authenticate(context.Background(), mustToken(t, tm, "not-a-uuid"))
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Zero(t, users.calls)
}

func TestPlatformUserLookupIsBounded(t *testing.T) {
	tm := newTokens(t)
	repo := repository.NewMemoryUserRepository()
	u := &domain.User{Email: "ops@example.com", Role: "admin", IsActive: true}
	require.NoError(t, repo.Create(context.Background(), u))
	users := &countingUsers{UserRepository: repo, delay: time.Second}
	v := NewValidator(tm, users, nil, WithLookupTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := v.Authenticate(context.Background(), mustToken(t, tm, u.ID))
	require.ErrorIs(t, err, domain.ErrStorageTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, users.calls)
}
