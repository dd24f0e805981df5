package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeader(t *testing.T) {
	t.Parallel()

	tok, err := FromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = FromHeader("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		_, err := FromHeader(h)
		require.ErrorIs(t, err, ErrMissingToken, h)
	}
}

func TestVerifier(t *testing.T) {
	t.Parallel()

	v := NewVerifier("top-secret", "authenticated")
	p := Principal{UserID: "0d6c1c5e-3b0b-4c43-9a57-2f1d5b3e8e11", Email: "anna@example.com"}

	t.Run("roundtrip", func(t *testing.T) {
		t.Parallel()

		tok, err := v.Issue(p, time.Hour)
		require.NoError(t, err)

		got, err := v.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()

		tok, err := v.Issue(p, -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()

		tok, err := NewVerifier("other", "authenticated").Issue(p, time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		t.Parallel()

		tok, err := NewVerifier("top-secret", "anon").Issue(p, time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned algorithm", func(t *testing.T) {
		t.Parallel()

		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()

		tok, err := v.Issue(Principal{}, time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		_, err := v.Verify("")
		require.ErrorIs(t, err, ErrMissingToken)
	})
}
