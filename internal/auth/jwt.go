package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Tokens signs and parses HS256 actor tokens. The subject carries the actor id.
type Tokens struct {
	secret []byte
	issuer string
}

func NewTokens(secret, issuer string) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer}
}

func (t *Tokens) Sign(a Actor, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	c := claims{
		Kind: string(a.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

// Parse validates the token and returns the actor it names.
func (t *Tokens) Parse(tokenStr string) (Actor, error) {
	if len(t.secret) == 0 {
		return Actor{}, errors.New("jwt secret is empty")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return Actor{}, ErrInvalidToken
	}

	c, _ := tok.Claims.(*claims)
	if c == nil {
		return Actor{}, ErrInvalidToken
	}
	kind, ok := ParseKind(strings.ToLower(c.Kind))
	if !ok || kind == KindSystem {
		return Actor{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, ErrInvalidToken
	}
	return Actor{Kind: kind, ID: id}, nil
}

// ParseBearer extracts the token from an Authorization header value.
func (t *Tokens) ParseBearer(header string) (Actor, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Actor{}, errors.New("invalid authorization header")
	}
	return t.Parse(strings.TrimSpace(parts[1]))
}
