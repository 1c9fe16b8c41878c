// Package auth implements the gateway session layer: short-lived bearer
// tokens bound to a bridge client id and the consent-manager id it operates
// under. Tokens are self-contained HS256 JWTs; there is no server-side
// session state and no revocation, tokens die by expiry only.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenMalformed     = errors.New("token malformed")
)

// Claims is the JWT payload minted for a bridge session.
type Claims struct {
	ClientID string `json:"clientId"`
	CMID     string `json:"cmId"`
	jwt.RegisteredClaims
}

// Identity is the validated caller identity extracted from a bearer token.
type Identity struct {
	ClientID string
	CMID     string
}

// Session is the token material returned to the bridge.
type Session struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

// CredentialStore checks client credentials. The static config-fed store is
// the only implementation in this repo; a database-backed one can replace it
// without touching the token service.
type CredentialStore interface {
	Check(clientID, clientSecret string) bool
}

// TokenService mints and validates gateway session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	creds  CredentialStore
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, creds CredentialStore) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		creds:  creds,
		now:    time.Now,
	}
}

// Issue validates the caller and mints a signed session token bound to
// (clientID, cmID). No server-side state is created.
func (s *TokenService) Issue(clientID, clientSecret, cmID string) (*Session, error) {
	if !s.creds.Check(clientID, clientSecret) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	claims := Claims{
		ClientID: clientID,
		CMID:     cmID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken: signed,
		ExpiresIn:   int(s.ttl.Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// Validate checks signature and expiry. Pure computation, safe under
// unlimited concurrency.
func (s *TokenService) Validate(tokenStr string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenMalformed
			}
			return s.secret, nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !token.Valid || claims.ClientID == "" {
		return nil, ErrTokenMalformed
	}

	return &Identity{ClientID: claims.ClientID, CMID: claims.CMID}, nil
}
