package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{Secret: []byte("test-secret"), Alg: "HS256"}

func TestSignAndVerify(t *testing.T) {
	tok, err := Sign(testOpts, "user-a", time.Hour)
	require.NoError(t, err)

	id, err := Verify(testOpts, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-a", id.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, 5*time.Second)
}

func TestVerifyRejects(t *testing.T) {
	expired, err := Sign(testOpts, "user-a", -time.Minute)
	require.NoError(t, err)
	otherKey, err := Sign(Options{Secret: []byte("other")}, "user-a", time.Hour)
	require.NoError(t, err)
	otherAlg, err := Sign(Options{Secret: testOpts.Secret, Alg: "HS512"}, "user-a", time.Hour)
	require.NoError(t, err)
	noSubject, err := Sign(testOpts, "", time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":    expired,
		"wrong key":  otherKey,
		"wrong alg":  otherAlg,
		"no subject": noSubject,
		"garbage":    "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Verify(testOpts, tok)
			assert.Error(t, err)
		})
	}
}

func TestUnsupportedAlg(t *testing.T) {
	_, err := Sign(Options{Secret: []byte("x"), Alg: "RS256"}, "u", time.Minute)
	assert.Error(t, err)
	_, err = Verify(Options{Secret: []byte("x"), Alg: "none"}, "a.b.c")
	assert.Error(t, err)
}
