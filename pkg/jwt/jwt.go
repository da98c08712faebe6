package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSigningMethod = errors.New("unexpected signing method")
	ErrInvalidToken         = errors.New("invalid token")
)

// StateClaims bind an OAuth state token to the session config that issued it
type StateClaims struct {
	jwt.RegisteredClaims
	ConfigID string `json:"cfg"`
}

// StateSigner issues and verifies single-use OAuth state tokens
type StateSigner struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

func NewStateSigner(secret []byte, expiry time.Duration, issuer string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("state secret must be at least 16 bytes")
	}
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &StateSigner{
		secret: secret,
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue signs a fresh state token for the given config id
func (s *StateSigner) Issue(configID string) (string, error) {
	now := s.now()
	claims := StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		ConfigID: configID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature, issuer and expiry and returns the claims
func (s *StateSigner) Verify(tokenString string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningMethod
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
