package security

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"famly/tools/errs"
)

// Options controls signature verification.
type Options struct {
	Secret []byte // HMAC key
	Alg    string // HS256/HS384/HS512 (default HS256)
	Leeway time.Duration
}

// Identity is the trusted caller resolved from a verified token.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Verify checks the token signature and time claims and returns the subject.
func Verify(opts Options, token string) (Identity, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return Identity{}, err
	}
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithLeeway(opts.Leeway),
		jwtlib.WithExpirationRequired(),
	)
	claims := jwtlib.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwtlib.Token) (interface{}, error) {
		return opts.Secret, nil
	}); err != nil {
		return Identity{}, errs.WrapMsg(err, "verify token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, errs.New("token has no subject")
	}
	id := Identity{UserID: claims.Subject}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Sign issues a token for userID. The hub never issues tokens to clients;
// this exists for local tooling and tests.
func Sign(opts Options, userID string, ttl time.Duration) (string, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", err
	}
	now := time.Now()
	tok := jwtlib.NewWithClaims(method, jwtlib.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	})
	return tok.SignedString(opts.Secret)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
