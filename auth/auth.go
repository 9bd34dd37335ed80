// Verification of signed access tokens issued by the identity service.
package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

var supportedAlgs = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

type Claims struct {
	jwt.RegisteredClaims
}

// Token is what callers get out of a successful verification.
type Token struct {
	Subject string
	Expiry  time.Time
}

type Verifier struct {
	key crypto.PublicKey
	// if set, the "iss" claim must match
	Issuer string
	Leeway time.Duration
}

// Builds a verifier from a PEM encoded RSA or ECDSA public key.
func NewVerifier(pemBytes []byte) (*Verifier, error) {
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return &Verifier{key: rsaKey, Leeway: 5 * time.Second}, nil
	}
	ecKey, err := jwt.ParseECPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: expected RSA or ECDSA PEM: %w", err)
	}
	return &Verifier{key: ecKey, Leeway: 5 * time.Second}, nil
}

// Accepts either inline PEM or a path to a PEM file.
func LoadVerifier(keyOrPath string) (*Verifier, error) {
	if strings.Contains(keyOrPath, "-----BEGIN") {
		return NewVerifier([]byte(keyOrPath))
	}
	b, err := os.ReadFile(keyOrPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	return NewVerifier(b)
}

// Checks signature and expiry, and returns the token subject. An optional
// "Bearer " prefix is stripped.
func (v *Verifier) Verify(tokenString string) (*Token, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(supportedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Token{
		Subject: claims.Subject,
		Expiry:  claims.ExpiresAt.Time,
	}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if k, ok := v.key.(*rsa.PublicKey); ok {
			return k, nil
		}
	case *jwt.SigningMethodECDSA:
		if k, ok := v.key.(*ecdsa.PublicKey); ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: signing method %s does not match key", jwt.ErrTokenUnverifiable, token.Method.Alg())
}
