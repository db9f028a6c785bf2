package gitclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource отдает действующий credential для Authorization-заголовка.
// Токен живет только в памяти процесса; логи и аудит видят его лишь
// через MaskToken.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource — обычный PAT из конфига.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token []byte) *StaticTokenSource {
	return &StaticTokenSource{token: strings.TrimSpace(string(token))}
}

func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// AppTokenSource чеканит короткоживущий RS256 JWT для GitHub App.
// Приложение предъявляет его вместо PAT; ключ — PEM из конфига.
type AppTokenSource struct {
	appID string
	key   any // *rsa.PrivateKey

	mu      sync.Mutex
	current string
	expires time.Time
}

func NewAppTokenSource(appID string, pemKey []byte) (*AppTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	return &AppTokenSource{appID: appID, key: key}, nil
}

func (s *AppTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// GitHub принимает app JWT максимум на 10 минут; перевыпускаем заранее
	if s.current != "" && time.Until(s.expires) > time.Minute {
		return s.current, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer: s.appID,
		// Минута назад — страховка от clock skew между нами и GitHub
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}

	s.current = signed
	s.expires = now.Add(9 * time.Minute)
	return signed, nil
}

// MaskToken — единственная форма, в которой credential может попасть в лог.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
