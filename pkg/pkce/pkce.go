// Package pkce implements the PKCE (RFC 7636) verifier/challenge/state
// generation used by the NYKNYC authorization flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	insecurerand "math/rand"
)

// Verifier and state sizes in bytes before encoding.
const (
	// VerifierSize provides 256 bits of entropy (43 chars base64url).
	VerifierSize = 32
	// StateSize provides 128 bits of entropy (22 chars base64url).
	StateSize = 16
)

// Challenge method identifiers per RFC 7636.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Challenge holds a complete PKCE triple for one authorization attempt.
// The verifier is kept secret by the client and only sent in the final
// code-exchange request; the challenge and state are embedded in the
// authorization URL.
type Challenge struct {
	Verifier  string
	Challenge string
	Method    string
	State     string
}

// Generator produces PKCE material. The zero value is safe to use and
// refuses to operate without cryptographically secure randomness.
type Generator struct {
	// AllowInsecure opts in to a non-cryptographic fallback when secure
	// randomness is unavailable. Never set this in production; it exists
	// for constrained development environments only.
	AllowInsecure bool

	Logger *slog.Logger

	// randRead overrides the entropy source in tests.
	randRead func([]byte) (int, error)
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// GenerateVerifier creates a new high-entropy code verifier.
func (g *Generator) GenerateVerifier() (string, error) {
	verifier, _, err := g.randomToken(VerifierSize)
	return verifier, err
}

// GenerateChallenge computes the S256 challenge for a verifier:
// BASE64URL(SHA256(verifier)), unpadded.
func (g *Generator) GenerateChallenge(verifier string) (string, error) {
	if verifier == "" {
		return "", fmt.Errorf("pkce: verifier must not be empty")
	}

	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]), nil
}

// GenerateState creates a new anti-CSRF state token.
func (g *Generator) GenerateState() (string, error) {
	state, _, err := g.randomToken(StateSize)
	return state, err
}

// GenerateAll produces a complete verifier/challenge/state triple. On the
// insecure-randomness fallback the triple downgrades to the plain method,
// sending the verifier itself as the challenge, so the authorization
// server knows no S256 guarantee holds for this attempt.
func (g *Generator) GenerateAll() (Challenge, error) {
	verifier, secure, err := g.randomToken(VerifierSize)
	if err != nil {
		return Challenge{}, err
	}

	method := MethodS256
	challenge, err := g.GenerateChallenge(verifier)
	if err != nil {
		return Challenge{}, err
	}
	if !secure {
		challenge = verifier
		method = MethodPlain
	}

	state, _, err := g.randomToken(StateSize)
	if err != nil {
		return Challenge{}, err
	}

	return Challenge{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    method,
		State:     state,
	}, nil
}

// randomToken returns a base64url-encoded token of size random bytes and
// reports whether it came from a secure source. The math/rand fallback
// fires only when AllowInsecure is set.
func (g *Generator) randomToken(size int) (token string, secure bool, err error) {
	buf := make([]byte, size)
	if _, readErr := g.read(buf); readErr != nil {
		if !g.AllowInsecure {
			return "", false, fmt.Errorf(
				"pkce: secure randomness unavailable and insecure fallback not enabled: %w", readErr)
		}

		g.logger().Warn("pkce: INSECURE fallback randomness in use; do not use in production",
			"error", readErr)
		for i := range buf {
			buf[i] = byte(insecurerand.Intn(256))
		}
		return base64.RawURLEncoding.EncodeToString(buf), false, nil
	}

	return base64.RawURLEncoding.EncodeToString(buf), true, nil
}

func (g *Generator) read(buf []byte) (int, error) {
	if g.randRead != nil {
		return g.randRead(buf)
	}
	return rand.Read(buf)
}
