package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMalformedToken = errors.New("malformed API token")
	ErrInvalidToken   = errors.New("invalid API token")
)

const secretBytes = 32

// GenerateToken creates an API token for userID. The token has the form
// "<user uuid>.<secret>"; only the bcrypt hash of the secret is stored.
func GenerateToken(userID uuid.UUID) (token, hash string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	h, err := HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return userID.String() + "." + secret, h, nil
}

// HashSecret bcrypt-hashes a token secret.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// ParseToken splits a token into its user id and secret.
func ParseToken(token string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || secret == "" {
		return uuid.Nil, "", ErrMalformedToken
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return id, secret, nil
}

// VerifySecret checks secret against a stored bcrypt hash.
func VerifySecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidToken
	}
	return nil
}
