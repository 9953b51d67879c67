package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAll(t *testing.T) {
	t.Parallel()

	var g Generator
	triple, err := g.GenerateAll()
	require.NoError(t, err)

	require.NotEmpty(t, triple.Verifier)
	require.NotEmpty(t, triple.Challenge)
	require.NotEmpty(t, triple.State)
	require.Equal(t, MethodS256, triple.Method)

	// Verify challenge is correctly computed from verifier
	hash := sha256.Sum256([]byte(triple.Verifier))
	expected := base64.RawURLEncoding.EncodeToString(hash[:])
	require.Equal(t, expected, triple.Challenge)
}

func TestVerifierLength(t *testing.T) {
	t.Parallel()

	var g Generator
	verifier, err := g.GenerateVerifier()
	require.NoError(t, err)

	// 32 bytes base64url-encoded without padding is 43 chars, within the
	// RFC 7636 43..128 range.
	require.Len(t, verifier, 43)
}

func TestChallengeRejectsEmptyVerifier(t *testing.T) {
	t.Parallel()

	var g Generator
	_, err := g.GenerateChallenge("")
	require.Error(t, err)
}

func TestGenerateAllInsecureFallbackUsesPlainMethod(t *testing.T) {
	t.Parallel()

	g := Generator{
		AllowInsecure: true,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		randRead: func([]byte) (int, error) {
			return 0, errors.New("entropy source unavailable")
		},
	}

	triple, err := g.GenerateAll()
	require.NoError(t, err)
	require.Equal(t, MethodPlain, triple.Method)
	require.Equal(t, triple.Verifier, triple.Challenge)
	require.NotEmpty(t, triple.State)
}

func TestGenerateAllRefusesInsecureByDefault(t *testing.T) {
	t.Parallel()

	g := Generator{
		randRead: func([]byte) (int, error) {
			return 0, errors.New("entropy source unavailable")
		},
	}

	_, err := g.GenerateAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "insecure fallback not enabled")
}

func TestStateUniqueness(t *testing.T) {
	t.Parallel()

	var g Generator
	seen := make(map[string]bool)
	for range 32 {
		state, err := g.GenerateState()
		require.NoError(t, err)
		require.False(t, seen[state], "state collision")
		seen[state] = true
	}
}
