package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nyknyc/nyknyc-go/pkg/session"
	"github.com/nyknyc/nyknyc-go/pkg/storage"
)

func TestValidityIsPureFunctionOfTime(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := session.Session{
		AccessToken: "tok",
		ExpiresAt:   expiry,
	}

	buffer := 300 * time.Second
	boundary := expiry.Add(-buffer)

	require.True(t, sess.ValidWithBuffer(boundary.Add(-time.Second), buffer))
	// Exactly at expiry-buffer is no longer valid (strict before).
	require.False(t, sess.ValidWithBuffer(boundary, buffer))
	require.False(t, sess.ValidWithBuffer(boundary.Add(time.Second), buffer))
}

func TestValidityRequiresToken(t *testing.T) {
	t.Parallel()

	sess := session.Session{ExpiresAt: time.Now().Add(time.Hour)}
	require.False(t, sess.Valid(time.Now()))
}

func TestChecksumAddress(t *testing.T) {
	t.Parallel()

	// EIP-55 reference vector.
	require.Equal(t,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		session.ChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
}

func TestExpiryFromPrefersExpiresIn(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := session.ExpiryFrom(issued, 3600, "opaque-token")
	require.Equal(t, issued.Add(time.Hour), expiry)
}

func TestExpiryFromFallsBackToJWTExp(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "0xabc",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	expiry := session.ExpiryFrom(time.Now(), 0, signed)
	require.Equal(t, exp.Unix(), expiry.Unix())
}

func TestExpiryFromUnknown(t *testing.T) {
	t.Parallel()

	require.True(t, session.ExpiryFrom(time.Now(), 0, "not-a-jwt").IsZero())
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewStore(storage.NewMemory(), nil)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	sess := session.Session{
		AccessToken:     "access",
		RefreshToken:    "refresh",
		ExpiresAt:       time.Now().Add(time.Hour).UTC(),
		Address:         session.ChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"),
		ChainID:         10,
		SupportedChains: []uint64{1, 10},
	}
	require.NoError(t, store.Save(ctx, sess))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, sess.Address, loaded.Address)
	require.Equal(t, sess.ChainID, loaded.ChainID)

	store.Delete(ctx)
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestStoreDeletesCorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := storage.NewMemory()
	store := session.NewStore(backend, nil)

	// Parsable JSON but structurally invalid (no tokens).
	require.NoError(t, backend.Set(ctx, "nyknyc:session", []byte(`{"chain_id":1}`)))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	// The corrupt record was removed.
	_, err = backend.Get(ctx, "nyknyc:session")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPendingAuthLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewStore(storage.NewMemory(), nil)

	pending := session.PendingAuth{
		Verifier:  "verifier",
		Challenge: "challenge",
		State:     "state-token",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SavePendingAuth(ctx, pending))

	loaded, err := store.LoadPendingAuth(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "state-token", loaded.State)

	store.DeletePendingAuth(ctx)
	loaded, err = store.LoadPendingAuth(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)
}
