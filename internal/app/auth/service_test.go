package auth

import (
	"context"
	"testing"
	"time"

	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newService() *Service {
	return NewService(storemem.New(), "test-secret", time.Hour).WithCost(bcrypt.MinCost)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService()
	ctx := context.Background()

	u, err := s.Register(ctx, " alice ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Nickname)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	_, err = s.Register(ctx, "alice", "secret2")
	assert.ErrorIs(t, err, domain.ErrNicknameTaken)
	_, err = s.Register(ctx, "bob", "123")
	assert.ErrorIs(t, err, domain.ErrPasswordInvalid)

	got, err := s.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Login(ctx, "alice", "wrong-pw")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
	_, err = s.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	s := newService()
	ctx := context.Background()
	u, err := s.Register(ctx, "carol", "secret1")
	require.NoError(t, err)

	tok, err := s.IssueToken(u)
	require.NoError(t, err)

	claims, err := s.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "carol", claims.Nickname)

	got, err := s.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	s := newService()

	_, err := s.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService(storemem.New(), "other-secret", time.Hour)
	tok, err := other.IssueToken(&domain.User{ID: "u1", Nickname: "x"})
	require.NoError(t, err)
	_, err = s.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	raw, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.ParseToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// valid signature but the user is gone
	tok, err = s.IssueToken(&domain.User{ID: "ghost", Nickname: "ghost"})
	require.NoError(t, err)
	_, err = s.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoSecret(t *testing.T) {
	s := NewService(storemem.New(), "", time.Hour)
	_, err := s.IssueToken(&domain.User{ID: "u"})
	assert.ErrorIs(t, err, ErrNoSecret)
}
