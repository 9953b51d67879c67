package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeStatusSynonyms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Status
	}{
		{"pending_signature", StatusPendingSignature},
		{"PENDING", StatusPendingSignature},
		{"created", StatusPendingSignature},
		{"signed", StatusSigned},
		{"Approved", StatusSigned},
		{"broadcasted", StatusBroadcasted},
		{"sent", StatusBroadcasted},
		{"SUBMITTED", StatusBroadcasted},
		{"completed", StatusCompleted},
		{"confirmed", StatusCompleted},
		{"Mined", StatusCompleted},
		{"success", StatusCompleted},
		{"failed", StatusFailed},
		{"Reverted", StatusFailed},
		{"error", StatusFailed},
		// Unrecognized spellings never assume success.
		{"", StatusPendingSignature},
		{"wibble", StatusPendingSignature},
		{"COMPLETED_V2", StatusPendingSignature},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeStatus(tc.in))
		})
	}
}

func TestNormalizeStatusIdempotent(t *testing.T) {
	t.Parallel()

	for raw := range statusSynonyms {
		once := NormalizeStatus(raw)
		require.Equal(t, once, NormalizeStatus(string(once)), "raw=%q", raw)
	}
}

func TestNormalizeSignState(t *testing.T) {
	t.Parallel()

	require.Equal(t, SignStateSigned, NormalizeSignState("SIGNED"))
	require.Equal(t, SignStateRejected, NormalizeSignState("declined"))
	require.Equal(t, SignStateExpired, NormalizeSignState("expired"))
	require.Equal(t, SignStateFailed, NormalizeSignState("error"))
	require.Equal(t, SignStatePending, NormalizeSignState("anything-else"))
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusBroadcasted.Terminal())
	require.False(t, StatusPendingSignature.Terminal())
}
