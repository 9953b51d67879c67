// Package provider implements the EIP-1193 request surface over the NYKNYC
// backend: account and chain queries, transaction and signing operations
// routed through the remote review UI, and the EIP-5792 batch-call mapping.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nyknyc/nyknyc-go/pkg/api"
	"github.com/nyknyc/nyknyc-go/pkg/session"
	"github.com/nyknyc/nyknyc-go/pkg/window"
)

// Config carries the Provider dependencies.
type Config struct {
	API      *api.Client
	Sessions *session.Store
	Windows  *window.Manager

	// FrontendURL is the NYKNYC web app root review pages live under.
	FrontendURL string

	Logger *slog.Logger
}

// Provider holds at most one active session and dispatches EIP-1193
// requests against it.
type Provider struct {
	api         *api.Client
	store       *session.Store
	windows     *window.Manager
	frontendURL string
	logger      *slog.Logger
	events      *emitter

	mu   sync.Mutex
	sess *session.Session

	batchMu sync.Mutex
	batches map[string][]string
}

// New creates a Provider with no active session.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		api:         cfg.API,
		store:       cfg.Sessions,
		windows:     cfg.Windows,
		frontendURL: cfg.FrontendURL,
		logger:      logger,
		events:      newEmitter(logger),
		batches:     make(map[string][]string),
	}
}

// On registers a listener for an event name and returns a handle for
// RemoveListener.
func (p *Provider) On(event string, fn Listener) int {
	return p.events.on(event, fn)
}

// RemoveListener unregisters a listener previously returned by On.
func (p *Provider) RemoveListener(event string, id int) {
	p.events.removeListener(event, id)
}

// Session returns a copy of the active session, or nil.
func (p *Provider) Session() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	copied := *p.sess
	return &copied
}

// SetSession installs a session, emitting accountsChanged and chainChanged
// when the visible account or chain actually changed.
func (p *Provider) SetSession(sess session.Session) {
	p.mu.Lock()
	prevAddr, prevChain := "", uint64(0)
	if p.sess != nil {
		prevAddr, prevChain = p.sess.Address, p.sess.ChainID
	}
	p.sess = &sess
	p.mu.Unlock()

	if sess.Address != prevAddr {
		p.events.emit(EventAccountsChanged, []string{sess.Address})
	}
	if sess.ChainID != prevChain {
		p.events.emit(EventChainChanged, hexutil.EncodeUint64(sess.ChainID))
	}
}

// Disconnect drops the session and all batch state, and notifies listeners.
// The persisted record is deleted best-effort; cleanup never fails.
func (p *Provider) Disconnect(ctx context.Context) {
	p.mu.Lock()
	had := p.sess != nil
	p.sess = nil
	p.mu.Unlock()

	p.batchMu.Lock()
	p.batches = make(map[string][]string)
	p.batchMu.Unlock()

	p.store.Delete(ctx)

	if had {
		p.events.emit(EventAccountsChanged, []string{})
	}
	p.events.emit(EventDisconnect, nil)
}

// snapshot returns a copy of the active session or a "No active session"
// error.
func (p *Provider) snapshot() (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return session.Session{}, errNoSession()
	}
	return *p.sess, nil
}

// Request dispatches one EIP-1193 request. Params follow the JSON-RPC
// positional convention for each method.
func (p *Provider) Request(ctx context.Context, method string, params ...any) (any, error) {
	switch method {
	case "eth_accounts":
		return p.accounts(), nil

	case "eth_requestAccounts":
		sess, err := p.snapshot()
		if err != nil {
			return nil, err
		}
		return []string{sess.Address}, nil

	case "eth_chainId":
		sess, err := p.snapshot()
		if err != nil {
			return nil, err
		}
		return hexutil.EncodeUint64(sess.ChainID), nil

	case "eth_sendTransaction":
		return p.sendTransaction(ctx, params)

	case "personal_sign":
		return p.personalSign(ctx, params)

	case "eth_signTypedData_v4":
		return p.signTypedData(ctx, params)

	case "wallet_switchEthereumChain":
		return nil, p.switchChainRequest(ctx, params)

	case "wallet_addEthereumChain":
		return nil, p.addChainRequest(params)

	case "wallet_getCapabilities":
		return p.capabilities()

	case "wallet_sendCalls":
		return p.sendCalls(ctx, params)

	case "wallet_getCallsReceipt":
		return p.callsReceipt(ctx, params)

	default:
		if readOnlyMethods[method] {
			return nil, errUnsupported("%s should be handled by RPC provider", method)
		}
		return nil, errUnsupported("method %s is not supported", method)
	}
}

// accounts returns the visible account list without requiring a session.
func (p *Provider) accounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return []string{}
	}
	return []string{p.sess.Address}
}

// readOnlyMethods are node RPC methods this provider refuses by policy: the
// dApp should route them through a general-purpose RPC transport.
var readOnlyMethods = map[string]bool{
	"eth_getBalance":            true,
	"eth_call":                  true,
	"eth_estimateGas":           true,
	"eth_gasPrice":              true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_getBlockByHash":        true,
	"eth_getTransactionByHash":  true,
	"eth_getTransactionReceipt": true,
	"eth_getTransactionCount":   true,
	"eth_getCode":               true,
	"eth_getLogs":               true,
	"eth_getStorageAt":          true,
	"net_version":               true,
}

// failOp notifies error listeners and returns the error. Side-effecting
// operations report failure on both channels so event-driven and
// call-driven consumers each observe it.
func (p *Provider) failOp(err error) error {
	p.events.emit(EventError, err)
	return err
}

// refreshFunc builds the single-retry 401 recovery callback for one
// outbound call. failed is the token the call was made with.
func (p *Provider) refreshFunc(failed string) api.RefreshFunc {
	return func(ctx context.Context) (string, error) {
		return p.refreshToken(ctx, failed)
	}
}

// refreshToken exchanges the refresh token for new credentials. Refreshes
// are serialized behind the session mutex; a caller whose token was already
// replaced by a concurrent refresh gets the current token without another
// round trip. Refresh failure is terminal: the session is cleared and
// disconnect is emitted.
func (p *Provider) refreshToken(ctx context.Context, failed string) (string, error) {
	p.mu.Lock()

	if p.sess == nil {
		p.mu.Unlock()
		return "", errNoSession()
	}
	if p.sess.AccessToken != failed {
		token := p.sess.AccessToken
		p.mu.Unlock()
		return token, nil
	}

	tokens, err := p.api.RefreshGrant(ctx, p.sess.RefreshToken)
	if err != nil {
		p.sess = nil
		p.mu.Unlock()
		p.store.Delete(context.WithoutCancel(ctx))
		p.events.emit(EventDisconnect, nil)
		return "", fmt.Errorf("provider: token refresh failed: %w", err)
	}

	p.sess.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		p.sess.RefreshToken = tokens.RefreshToken
	}
	p.sess.ExpiresAt = session.ExpiryFrom(time.Now(), tokens.ExpiresIn, tokens.AccessToken)
	sess := *p.sess
	p.mu.Unlock()

	if err := p.store.Save(ctx, sess); err != nil {
		p.logger.Warn("provider: persisting refreshed session failed", "error", err)
	}

	return sess.AccessToken, nil
}

// decodeParam coerces a positional param into out through a JSON round
// trip, accepting maps, structs and JSON-compatible scalars alike.
func decodeParam(params []any, i int, out any) error {
	if i >= len(params) {
		return errInvalidParams("missing parameter %d", i)
	}
	raw, err := json.Marshal(params[i])
	if err != nil {
		return errInvalidParams("parameter %d is not serializable: %v", i, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errInvalidParams("parameter %d has unexpected shape: %v", i, err)
	}
	return nil
}

func stringParam(params []any, i int) (string, error) {
	if i >= len(params) {
		return "", errInvalidParams("missing parameter %d", i)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", errInvalidParams("parameter %d must be a string", i)
	}
	return s, nil
}
