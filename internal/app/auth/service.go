// Package auth registers users, checks passwords and issues tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret not configured")
)

type Claims struct {
	UserID   domain.UserID
	Nickname string
}

type Service struct {
	users  core.UserStore
	secret []byte
	ttl    time.Duration
	cost   int
}

func NewService(users core.UserStore, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func (s *Service) Register(ctx context.Context, nickname, password string) (*domain.User, error) {
	if err := domain.ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := domain.NewUser(nickname, string(hash))
	if err != nil {
		return nil, err
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.auth").Str("user", string(u.ID)).Str("nickname", u.Nickname).Msg("registered")
	return u, nil
}

// Login never tells an unknown nickname from a wrong password.
func (s *Service) Login(ctx context.Context, nickname, password string) (*domain.User, error) {
	nickname, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return nil, domain.ErrBadCredentials
	}
	u, err := s.users.FindUserByNickname(ctx, nickname)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrBadCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		log.Warn().Str("module", "app.auth").Str("nickname", nickname).Msg("bad password")
		return nil, domain.ErrBadCredentials
	}
	return u, nil
}

func (s *Service) IssueToken(u *domain.User) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  string(u.ID),
		"nickname": u.Nickname,
		"iat":      now.Unix(),
		"exp":      now.Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) ParseToken(raw string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	uid, _ := claims["user_id"].(string)
	if uid == "" {
		return nil, ErrInvalidToken
	}
	nick, _ := claims["nickname"].(string)
	return &Claims{UserID: domain.UserID(uid), Nickname: nick}, nil
}

// Authenticate resolves a token to a stored user.
func (s *Service) Authenticate(ctx context.Context, raw string) (*domain.User, error) {
	c, err := s.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return u, nil
}
