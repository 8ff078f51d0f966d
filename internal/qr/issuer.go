// Package qr issues delivery verification tokens: opaque codes identifying a
// drone order, and short-lived signed handoff tokens for regular couriers.
package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const codePrefix = "DQR-"

var (
	ErrMalformed = errors.New("malformed verification token")
	ErrExpired   = errors.New("verification token expired")
	ErrMismatch  = errors.New("verification token does not match")
)

var codePattern = regexp.MustCompile(`^DQR-[0-9a-f]{40}$`)

type Issuer struct {
	secret     []byte
	codeTTL    time.Duration
	handoffTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, codeTTL, handoffTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		codeTTL:    codeTTL,
		handoffTTL: handoffTTL,
		now:        time.Now,
	}
}

// Code is a drone order code with its expiry.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// Issue derives a code from the order, the user, the time and fresh randomness,
// keyed with the issuer secret.
func (i *Issuer) Issue(orderID, userID int64, at time.Time) (Code, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return Code{}, err
	}

	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(strconv.FormatInt(orderID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	h.Write(nonce[:])

	return Code{
		Value:     codePrefix + hex.EncodeToString(h.Sum(nil))[:40],
		ExpiresAt: at.Add(i.codeTTL),
	}, nil
}

// Expiry returns the end of a validity window starting at from.
func (i *Issuer) Expiry(from time.Time) time.Time {
	return from.Add(i.codeTTL)
}

func (i *Issuer) WellFormed(code string) bool {
	return codePattern.MatchString(code)
}

// Verify checks format and expiry. A nil expiresAt never expires.
func (i *Issuer) Verify(code string, expiresAt *time.Time) error {
	if !i.WellFormed(code) {
		return ErrMalformed
	}
	if expiresAt != nil && i.now().After(*expiresAt) {
		return ErrExpired
	}
	return nil
}

// PNG renders code as a QR image of size pixels.
func PNG(code string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

type handoffClaims struct {
	OrderID int64 `json:"oid"`
	UserID  int64 `json:"uid"`
	jwt.RegisteredClaims
}

// IssueHandoff signs a regular-delivery handoff token for the order.
func (i *Issuer) IssueHandoff(orderID, userID int64) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, errors.New("handoff secret is empty")
	}
	now := i.now()
	exp := now.Add(i.handoffTTL)
	c := handoffClaims{
		OrderID: orderID,
		UserID:  userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// VerifyHandoff returns the order and user a handoff token was issued for.
func (i *Issuer) VerifyHandoff(token string) (orderID, userID int64, err error) {
	tok, err := jwt.ParseWithClaims(token, &handoffClaims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, 0, ErrExpired
		}
		return 0, 0, ErrMalformed
	}
	c, ok := tok.Claims.(*handoffClaims)
	if !ok || !tok.Valid || c.OrderID == 0 {
		return 0, 0, ErrMalformed
	}
	return c.OrderID, c.UserID, nil
}
