package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nyknyc/nyknyc-go/pkg/api"
	"github.com/nyknyc/nyknyc-go/pkg/session"
	"github.com/nyknyc/nyknyc-go/pkg/storage"
	"github.com/nyknyc/nyknyc-go/pkg/window"
)

const testWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func newTestProvider(t *testing.T, handler http.Handler) (*Provider, *window.FakeOpener) {
	t.Helper()

	var srv *httptest.Server
	if handler != nil {
		srv = httptest.NewServer(handler)
		t.Cleanup(srv.Close)
	}

	baseURL := "http://unused.invalid"
	if srv != nil {
		baseURL = srv.URL
	}

	client := api.New(api.Config{
		BaseURL:      baseURL,
		AppID:        "test-app",
		PollInterval: 2 * time.Millisecond,
		PollAttempts: 20,
	})

	opener := window.NewFakeOpener()
	p := New(Config{
		API:         client,
		Sessions:    session.NewStore(storage.NewMemory(), nil),
		Windows:     window.NewManager(opener, nil, nil),
		FrontendURL: "https://app.nyknyc.test",
	})
	return p, opener
}

func testSession() session.Session {
	return session.New("tok-access", "tok-refresh", 3600, testWallet, 8453, []uint64{1, 8453})
}

func TestAccountsWithoutSession(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)

	result, err := p.Request(context.Background(), "eth_accounts")
	require.NoError(t, err)
	require.Equal(t, []string{}, result)

	_, err = p.Request(context.Background(), "eth_requestAccounts")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, CodeUnauthorized, perr.Code)
	require.Contains(t, perr.Message, "No active session")
}

func TestAccountsAndChainID(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	accounts, err := p.Request(context.Background(), "eth_accounts")
	require.NoError(t, err)
	require.Equal(t, []string{testWallet}, accounts)

	chainID, err := p.Request(context.Background(), "eth_chainId")
	require.NoError(t, err)
	require.Equal(t, "0x2105", chainID)
}

func TestReadOnlyMethodsRejected(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	_, err := p.Request(context.Background(), "eth_getBalance", testWallet, "latest")
	require.Error(t, err)
	require.Contains(t, err.Error(), "should be handled by RPC provider")

	_, err = p.Request(context.Background(), "eth_mysteryMethod")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not supported")
}

func TestSendTransactionReturnsFirstHash(t *testing.T) {
	t.Parallel()

	var createBody atomic.Pointer[map[string]any]
	var statusCalls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transactions/create":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			createBody.Store(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tx-1", "status": "pending_signature"})

		case r.URL.Path == "/transactions/tx-1/status":
			if statusCalls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "pending_signature"})
				return
			}
			// Hash present while still broadcasting; resolve immediately.
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "broadcasted", "hash": "0xabc"})

		default:
			http.NotFound(w, r)
		}
	})

	p, opener := newTestProvider(t, handler)
	p.SetSession(testSession())

	hash, err := p.Request(context.Background(), "eth_sendTransaction", map[string]any{
		"from":  testWallet,
		"to":    "0x000000000000000000000000000000000000dEaD",
		"value": "0xde0b6b3a7640000",
	})
	require.NoError(t, err)
	require.Equal(t, "0xabc", hash)

	body := *createBody.Load()
	require.Equal(t, "1000000000000000000", body["value"])
	require.Equal(t, testWallet, body["wallet_address"])
	require.EqualValues(t, 8453, body["chain_id"])

	// Review window opened for the created transaction.
	require.Len(t, opener.Windows(), 1)
	require.Equal(t, "https://app.nyknyc.test/app/transactions/tx-1", opener.Windows()[0].URL())
}

func TestSendTransactionFailureEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transactions/create":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tx-1", "status": "pending_signature"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "failed", "error": "execution reverted"})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	errEvents := make(chan any, 1)
	p.On(EventError, func(payload any) { errEvents <- payload })

	_, err := p.Request(context.Background(), "eth_sendTransaction", map[string]any{"to": "0xdead"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution reverted")

	select {
	case payload := <-errEvents:
		require.Error(t, payload.(error))
	default:
		t.Fatal("expected an error event before the call rejected")
	}
}

func TestPersonalSignHexMessage(t *testing.T) {
	t.Parallel()

	var signBody atomic.Pointer[map[string]any]
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user/sign" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			signBody.Store(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"sign_id": "sig-1", "status": "pending",
				"popup_url": "https://app.nyknyc.test/sign/sig-1",
			})
		case r.URL.Path == "/user/sign/sig-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "signed",
				"envelope": map[string]any{"finalSignature": "0xsigned"},
			})
		default:
			http.NotFound(w, r)
		}
	})

	p, opener := newTestProvider(t, handler)
	p.SetSession(testSession())

	sig, err := p.Request(context.Background(), "personal_sign", "0x48656c6c6f", testWallet)
	require.NoError(t, err)
	require.Equal(t, "0xsigned", sig)

	body := *signBody.Load()
	require.Equal(t, "hex", body["message_encoding"])
	require.Equal(t, "0x48656c6c6f", body["message"])
	require.Equal(t, "Hello", body["message_text"])

	// Sign review window uses the backend-provided popup URL.
	require.Len(t, opener.Windows(), 1)
	require.Equal(t, "https://app.nyknyc.test/sign/sig-1", opener.Windows()[0].URL())
}

func TestPersonalSignUTF8Message(t *testing.T) {
	t.Parallel()

	var signBody atomic.Pointer[map[string]any]
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user/sign" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			signBody.Store(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{"sign_id": "sig-2", "status": "pending"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "signed",
				"envelope": map[string]any{"finalSignature": "0xsigned"},
			})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	_, err := p.Request(context.Background(), "personal_sign", "Hello World", testWallet)
	require.NoError(t, err)

	body := *signBody.Load()
	require.Equal(t, "utf8", body["message_encoding"])
	require.Equal(t, "Hello World", body["message"])
	_, hasText := body["message_text"]
	require.False(t, hasText)
}

func TestPersonalSignUserRejectionCode(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user/sign" && r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"sign_id": "sig-3", "status": "pending"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "rejected"})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	_, err := p.Request(context.Background(), "personal_sign", "Hello World", testWallet)
	require.Error(t, err)
	require.True(t, IsUserRejection(err))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, CodeUserRejected, perr.Code)
	require.Contains(t, perr.Message, "sig-3")
}

func TestPersonalSignRejectsUndecodableHex(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	// 0xfffe is valid hex but not valid UTF-8.
	_, err := p.Request(context.Background(), "personal_sign", "0xfffe", testWallet)
	require.Error(t, err)
	require.Contains(t, err.Error(), "UTF-8")
	require.Zero(t, calls.Load(), "rejection must happen before any network call")
}

func TestSignTypedDataAcceptsStringAndObject(t *testing.T) {
	t.Parallel()

	var signBody atomic.Pointer[map[string]any]
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user/sign" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			signBody.Store(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{"sign_id": "sig-3", "status": "pending"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "signed",
				"envelope": map[string]any{"finalSignature": "0xtyped"},
			})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	typed := map[string]any{"domain": map[string]any{"name": "Test"}, "primaryType": "Mail"}

	sig, err := p.Request(context.Background(), "eth_signTypedData_v4", testWallet, typed)
	require.NoError(t, err)
	require.Equal(t, "0xtyped", sig)
	require.Equal(t, "eth_signTypedData_v4", (*signBody.Load())["kind"])

	raw, _ := json.Marshal(typed)
	sig, err = p.Request(context.Background(), "eth_signTypedData_v4", testWallet, string(raw))
	require.NoError(t, err)
	require.Equal(t, "0xtyped", sig)

	_, err = p.Request(context.Background(), "eth_signTypedData_v4", testWallet, "{not json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid JSON")
}

func TestSwitchChainRejectsDisallowed(t *testing.T) {
	t.Parallel()

	p, opener := newTestProvider(t, nil)
	p.SetSession(session.New("tok", "refresh", 3600, testWallet, 1, []uint64{1, 10}))

	_, err := p.Request(context.Background(), "wallet_switchEthereumChain",
		map[string]any{"chainId": "0x3e7"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "999")

	// Session chain untouched, informational page opened.
	require.Equal(t, uint64(1), p.Session().ChainID)
	require.Len(t, opener.Windows(), 1)
	require.Equal(t, "https://app.nyknyc.test/error/unsupported-chain", opener.Windows()[0].URL())
}

func TestSwitchChainEmitsChainChanged(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	changed := make(chan any, 1)
	p.On(EventChainChanged, func(payload any) { changed <- payload })

	_, err := p.Request(context.Background(), "wallet_switchEthereumChain",
		map[string]any{"chainId": "0x1"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Session().ChainID)
	require.Equal(t, "0x1", <-changed)
}

func TestGetCapabilities(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	result, err := p.Request(context.Background(), "wallet_getCapabilities", testWallet)
	require.NoError(t, err)

	caps := result.(map[string]map[string]any)
	require.Len(t, caps, 2)
	require.Empty(t, caps["0x1"])
	require.Empty(t, caps["0x2105"])
}

func TestSendCallsValidation(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	_, err := p.Request(context.Background(), "wallet_sendCalls",
		map[string]any{"chainId": "0x2105", "calls": []any{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty calls")

	_, err = p.Request(context.Background(), "wallet_sendCalls", map[string]any{
		"chainId": "0x1",
		"calls":   []any{map[string]any{"to": "0xdead"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not match the active chain")

	_, err = p.Request(context.Background(), "wallet_sendCalls", map[string]any{
		"chainId": "bogus",
		"calls":   []any{map[string]any{"to": "0xdead"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid chain id")
}

func TestBatchReceiptAllOrNothing(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	var secondHasHash atomic.Bool

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transactions/create":
			n := created.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": map[int32]string{1: "tx-a", 2: "tx-b"}[n], "status": "pending_signature",
			})

		case r.URL.Path == "/transactions/tx-a/status":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "completed", "hash": "0xaaa",
				"execution_status": "success", "block_number": 100, "gas_used": 21000,
			})

		case r.URL.Path == "/transactions/tx-b/status":
			if !secondHasHash.Load() {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "signed"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "completed", "hash": "0xbbb", "execution_status": "failed",
			})

		default:
			http.NotFound(w, r)
		}
	})

	p, opener := newTestProvider(t, handler)
	p.SetSession(testSession())

	batchID, err := p.Request(context.Background(), "wallet_sendCalls", map[string]any{
		"chainId": "0x2105",
		"calls": []any{
			map[string]any{"to": "0xdead", "value": "0x1"},
			map[string]any{"to": "0xbeef"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	// Review window opened for the first transaction only.
	require.Len(t, opener.Windows(), 1)
	require.Equal(t, "https://app.nyknyc.test/app/transactions/tx-a", opener.Windows()[0].URL())

	// One member still hashless: the whole batch is PENDING with no
	// partial receipts.
	result, err := p.Request(context.Background(), "wallet_getCallsReceipt", batchID)
	require.NoError(t, err)
	receipt := result.(CallsReceipt)
	require.Equal(t, BatchStatusPending, receipt.Status)
	require.Empty(t, receipt.Receipts)

	secondHasHash.Store(true)

	result, err = p.Request(context.Background(), "wallet_getCallsReceipt", batchID)
	require.NoError(t, err)
	receipt = result.(CallsReceipt)
	require.Equal(t, BatchStatusConfirmed, receipt.Status)
	require.Len(t, receipt.Receipts, 2)
	require.Equal(t, CallReceipt{
		Status: "0x1", TransactionHash: "0xaaa", BlockNumber: "0x64", GasUsed: "0x5208",
	}, receipt.Receipts[0])
	require.Equal(t, "0x0", receipt.Receipts[1].Status)
	require.Equal(t, "0xbbb", receipt.Receipts[1].TransactionHash)
}

func TestBatchReceiptAmbiguousOutcomeStaysPending(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transactions/create":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tx-a", "status": "pending_signature"})
		default:
			// Hash known, outcome not: no execution_status, not terminal.
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "broadcasted", "hash": "0xaaa"})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	batchID, err := p.Request(context.Background(), "wallet_sendCalls", map[string]any{
		"chainId": "0x2105",
		"calls":   []any{map[string]any{"to": "0xdead"}},
	})
	require.NoError(t, err)

	result, err := p.Request(context.Background(), "wallet_getCallsReceipt", batchID)
	require.NoError(t, err)
	require.Equal(t, BatchStatusPending, result.(CallsReceipt).Status)
}

func TestUnknownBatchID(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)
	p.SetSession(testSession())

	_, err := p.Request(context.Background(), "wallet_getCallsReceipt", "no-such-batch")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown batch id")
}

func TestRefreshAndRetryOn401(t *testing.T) {
	t.Parallel()

	var createCalls, refreshCalls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			refreshCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-new", "refresh_token": "refresh-new", "expires_in": 3600,
			})

		case r.URL.Path == "/transactions/create":
			if createCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			require.Equal(t, "Bearer tok-new", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tx-1", "status": "pending_signature"})

		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "broadcasted", "hash": "0xabc"})
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	hash, err := p.Request(context.Background(), "eth_sendTransaction",
		map[string]any{"to": "0xdead"})
	require.NoError(t, err)
	require.Equal(t, "0xabc", hash)

	require.EqualValues(t, 2, createCalls.Load())
	require.EqualValues(t, 1, refreshCalls.Load())
	require.Equal(t, "tok-new", p.Session().AccessToken)
	require.Equal(t, "refresh-new", p.Session().RefreshToken)
}

func TestRefreshFailureClearsSession(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	disconnected := make(chan struct{}, 1)
	p.On(EventDisconnect, func(any) { disconnected <- struct{}{} })

	_, err := p.Request(context.Background(), "eth_sendTransaction",
		map[string]any{"to": "0xdead"})
	require.Error(t, err)
	require.Nil(t, p.Session())

	select {
	case <-disconnected:
	default:
		t.Fatal("expected a disconnect event after terminal refresh failure")
	}
}

func TestEmitterIsolatesPanickingListeners(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)

	var called atomic.Bool
	p.On(EventAccountsChanged, func(any) { panic("listener bug") })
	p.On(EventAccountsChanged, func(any) { called.Store(true) })

	p.SetSession(testSession())
	require.True(t, called.Load(), "second listener must run despite the first panicking")
}

func TestRemoveListener(t *testing.T) {
	t.Parallel()

	p, _ := newTestProvider(t, nil)

	var calls atomic.Int32
	id := p.On(EventAccountsChanged, func(any) { calls.Add(1) })

	p.SetSession(testSession())
	require.EqualValues(t, 1, calls.Load())

	p.RemoveListener(EventAccountsChanged, id)
	p.Disconnect(context.Background())
	require.EqualValues(t, 1, calls.Load())
}

func TestDisconnectClearsBatches(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transactions/create" {
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "tx-a", "status": "pending_signature"})
			return
		}
		http.NotFound(w, r)
	})

	p, _ := newTestProvider(t, handler)
	p.SetSession(testSession())

	batchID, err := p.Request(context.Background(), "wallet_sendCalls", map[string]any{
		"chainId": "0x2105",
		"calls":   []any{map[string]any{"to": "0xdead"}},
	})
	require.NoError(t, err)

	p.Disconnect(context.Background())
	p.SetSession(testSession())

	_, err = p.Request(context.Background(), "wallet_getCallsReceipt", batchID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown batch id")
}

func TestHexWeiToDecimal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0x0", "0"},
		{"0x1", "1"},
		{"0xde0b6b3a7640000", "1000000000000000000"},
		{"250", "250"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := hexWeiToDecimal(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := hexWeiToDecimal("0xzz")
	require.Error(t, err)
}
