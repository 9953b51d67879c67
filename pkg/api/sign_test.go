package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSign(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/sign", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"sign_id":"sig-1","status":"pending",
			"popup_url":"https://app.nyknyc.app/sign/sig-1"
		}`))
	}))

	result, err := client.CreateSign(context.Background(), "tok", nil, CreateSignRequest{
		Kind:            SignKindPersonal,
		WalletAddress:   "0xabc",
		ChainID:         1,
		Message:         "Hello World",
		MessageEncoding: MessageEncodingUTF8,
	})
	require.NoError(t, err)
	require.Equal(t, "sig-1", result.SignID)
	require.Equal(t, SignStatePending, result.Status)
	require.Equal(t, "https://app.nyknyc.app/sign/sig-1", result.PopupURL)
}

func TestWaitForSignCompletion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"sign_id":"sig-1","status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"sign_id":"sig-1","status":"signed",
			"envelope":{"finalSignature":"0xsig","erc6492Signature":"0xwrapped"}
		}`))
	}))

	status, err := client.WaitForSignCompletion(context.Background(), "tok", nil, "sig-1")
	require.NoError(t, err)
	require.Equal(t, "0xsig", status.Signature)
	require.Equal(t, "0xwrapped", status.WrappedSignature)
}

func TestWaitForSignCompletionRejected(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sign_id":"sig-1","status":"rejected"}`))
	}))

	_, err := client.WaitForSignCompletion(context.Background(), "tok", nil, "sig-1")
	require.ErrorIs(t, err, ErrUserRejected)
	require.Contains(t, err.Error(), "sig-1")
}

func TestWaitForSignCompletionSignedWithoutSignature(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sign_id":"sig-1","status":"signed"}`))
	}))

	_, err := client.WaitForSignCompletion(context.Background(), "tok", nil, "sig-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no signature")
}

func TestSignStatusDataEnvelope(t *testing.T) {
	t.Parallel()

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{
			"id":"sig-1","status":"signed",
			"signer_address":"0xabc",
			"envelope":{"finalSignature":"0xsig","validatorId":"ecdsa","guardianType":"passkey"}
		}}`))
	}))

	status, err := client.GetSignStatus(context.Background(), "tok", nil, "sig-1")
	require.NoError(t, err)
	require.Equal(t, SignStateSigned, status.Status)
	require.Equal(t, "0xsig", status.Signature)
	require.Equal(t, "ecdsa", status.ValidatorID)
	require.Equal(t, "passkey", status.GuardianType)
}
