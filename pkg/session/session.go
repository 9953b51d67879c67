// Package session defines the connector's authentication state record and
// its persistence across pluggable storage backends.
package session

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidityBuffer is subtracted from the session expiry when checking
// validity, so an operation started just before expiry doesn't fail
// mid-flight.
const DefaultValidityBuffer = 300 * time.Second

// Session is the unit of authentication state: bearer tokens, the wallet
// identity they authenticate, and the active chain.
type Session struct {
	// AccessToken is the opaque bearer token used to authenticate API requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque token used to obtain new access tokens.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the absolute expiry of the access token.
	ExpiresAt time.Time `json:"expires_at"`

	// Address is the smart-wallet address in canonical checksummed form.
	Address string `json:"address"`

	// ChainID is the active chain identifier.
	ChainID uint64 `json:"chain_id"`

	// SupportedChains lists the chain ids the wallet supports, if known.
	SupportedChains []uint64 `json:"supported_chains,omitempty"`
}

// New builds a Session from a token exchange result and the fetched wallet
// identity. The address is normalized to checksummed form and the expiry is
// derived from the server-declared lifetime at issue time.
func New(accessToken, refreshToken string, expiresIn int, address string, chainID uint64, supportedChains []uint64) Session {
	return Session{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		ExpiresAt:       ExpiryFrom(time.Now(), expiresIn, accessToken),
		Address:         ChecksumAddress(address),
		ChainID:         chainID,
		SupportedChains: supportedChains,
	}
}

// ChecksumAddress returns the EIP-55 checksummed form of an address.
func ChecksumAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// ExpiryFrom derives the absolute expiry for an access token. It prefers the
// server-declared lifetime; when that is absent it falls back to the token's
// own exp claim (parsed without signature verification, the backend signed
// it). Returns the zero time when neither is available.
func ExpiryFrom(issuedAt time.Time, expiresIn int, accessToken string) time.Time {
	if expiresIn > 0 {
		return issuedAt.Add(time.Duration(expiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return time.Time{}
}

// Valid reports whether the session is usable now, with the default buffer.
func (s Session) Valid(now time.Time) bool {
	return s.ValidWithBuffer(now, DefaultValidityBuffer)
}

// ValidWithBuffer reports whether now is strictly before expiry minus buffer.
func (s Session) ValidWithBuffer(now time.Time, buffer time.Duration) bool {
	if s.AccessToken == "" || s.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-buffer))
}

// structurallyValid reports whether a persisted record carries every field a
// usable session requires.
func (s Session) structurallyValid() bool {
	return s.AccessToken != "" &&
		s.RefreshToken != "" &&
		!s.ExpiresAt.IsZero() &&
		s.Address != "" &&
		s.ChainID > 0
}

// PendingAuth is the ephemeral state of a single OAuth attempt. It never
// outlives the attempt and is deleted on both the success and failure paths.
type PendingAuth struct {
	Verifier  string    `json:"verifier"`
	Challenge string    `json:"challenge"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (p PendingAuth) structurallyValid() bool {
	return p.Verifier != "" && p.Challenge != "" && p.State != ""
}
