// Package connector is the lifecycle facade a hosting framework drives:
// setup, connect (fresh authorization or reconnection), disconnect, and the
// account/chain accessors and change hooks wagmi-style hosts expect.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nyknyc/nyknyc-go/pkg/api"
	"github.com/nyknyc/nyknyc-go/pkg/authflow"
	"github.com/nyknyc/nyknyc-go/pkg/provider"
	"github.com/nyknyc/nyknyc-go/pkg/session"
)

// ErrNoCachedSession reports a reconnection attempt with nothing to
// reconnect to. Reconnection never starts a fresh authorization.
var ErrNoCachedSession = errors.New("connector: no cached session to reconnect")

// Hooks are the host's change handlers. All are optional.
type Hooks struct {
	OnAccountsChanged func(accounts []string)
	OnChainChanged    func(hexChainID string)
	OnDisconnect      func()
	OnError           func(err error)
}

// Config carries the Connector dependencies.
type Config struct {
	API      *api.Client
	Sessions *session.Store
	Provider *provider.Provider
	Flow     *authflow.Flow

	// VerifyOnReconnect additionally checks the cached token against the
	// backend's verify endpoint before trusting a reconnection.
	VerifyOnReconnect bool

	Hooks  Hooks
	Logger *slog.Logger
}

// Connector composes the authorization flow, the session store and the
// provider into the connect/disconnect lifecycle.
type Connector struct {
	cfg      Config
	provider *provider.Provider
	logger   *slog.Logger

	mu          sync.Mutex
	setupDone   bool
	attached    bool
	listenerIDs map[string]int
}

// New creates a Connector.
func New(cfg Config) *Connector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:         cfg,
		provider:    cfg.Provider,
		logger:      logger,
		listenerIDs: make(map[string]int),
	}
}

// Setup performs one-time initialization: a valid persisted session is
// loaded into the provider so accessors work before any Connect call.
// Calling Setup again is a no-op.
func (c *Connector) Setup(ctx context.Context) error {
	c.mu.Lock()
	if c.setupDone {
		c.mu.Unlock()
		return nil
	}
	c.setupDone = true
	c.mu.Unlock()

	sess, err := c.cfg.Sessions.Load(ctx)
	if err != nil {
		return err
	}
	if sess != nil && sess.ValidWithBuffer(nowFunc(), session.DefaultValidityBuffer) {
		c.provider.SetSession(*sess)
	}
	return nil
}

// ConnectOptions shape one Connect call.
type ConnectOptions struct {
	// IsReconnecting restricts Connect to the cached session: no window is
	// opened and no fresh authorization is attempted.
	IsReconnecting bool

	// ChainID, when non-zero, is applied after the session resolves. Its
	// failure is tolerated unless the user explicitly rejected it.
	ChainID uint64
}

// ConnectResult is what a successful Connect reports back to the host.
type ConnectResult struct {
	Accounts []string
	ChainID  uint64
}

// Connect resolves a session (cached or freshly authorized), installs it
// in the provider, attaches the host hooks and optionally switches chain.
func (c *Connector) Connect(ctx context.Context, opts ConnectOptions) (ConnectResult, error) {
	if err := c.Setup(ctx); err != nil {
		return ConnectResult{}, err
	}

	sess, err := c.resolveSession(ctx, opts.IsReconnecting)
	if err != nil {
		return ConnectResult{}, err
	}

	c.provider.SetSession(*sess)
	c.attachListeners()

	if opts.ChainID != 0 && opts.ChainID != sess.ChainID {
		if err := c.provider.SwitchChain(ctx, opts.ChainID); err != nil {
			if provider.IsUserRejection(err) {
				return ConnectResult{}, err
			}
			// Connection survives on the original chain.
			c.logger.Warn("connector: post-connect chain switch failed",
				"chain_id", opts.ChainID, "error", err)
		}
	}

	active := c.provider.Session()
	return ConnectResult{
		Accounts: []string{active.Address},
		ChainID:  active.ChainID,
	}, nil
}

// resolveSession produces the session Connect installs. The reconnection
// path must not open windows or attempt fresh authorization.
func (c *Connector) resolveSession(ctx context.Context, reconnecting bool) (*session.Session, error) {
	cached := c.cachedSession(ctx)

	if reconnecting {
		if cached == nil {
			return nil, ErrNoCachedSession
		}
		if c.cfg.VerifyOnReconnect {
			if err := c.cfg.API.VerifyToken(ctx, cached.AccessToken); err != nil {
				return nil, fmt.Errorf("connector: cached session rejected: %w", err)
			}
		}
		return cached, nil
	}

	if cached != nil {
		return cached, nil
	}
	return c.cfg.Flow.Authenticate(ctx)
}

// cachedSession returns the freshest valid session available, preferring
// the provider's live one over the persisted record.
func (c *Connector) cachedSession(ctx context.Context) *session.Session {
	if sess := c.provider.Session(); sess != nil &&
		sess.ValidWithBuffer(nowFunc(), session.DefaultValidityBuffer) {
		return sess
	}

	sess, err := c.cfg.Sessions.Load(ctx)
	if err != nil || sess == nil {
		return nil
	}
	if !sess.ValidWithBuffer(nowFunc(), session.DefaultValidityBuffer) {
		return nil
	}
	return sess
}

// Disconnect tears the connection down: provider state and persisted
// session are cleared, host hooks are detached. Cleanup failures never
// block disconnect.
func (c *Connector) Disconnect(ctx context.Context) {
	c.provider.Disconnect(ctx)
	c.detachListeners()
}

// IsAuthorized reports whether a connectable session exists without
// side effects.
func (c *Connector) IsAuthorized(ctx context.Context) bool {
	return c.cachedSession(ctx) != nil
}

// Accounts returns the visible account list.
func (c *Connector) Accounts() []string {
	if sess := c.provider.Session(); sess != nil {
		return []string{sess.Address}
	}
	return []string{}
}

// ChainID returns the active chain id, zero when disconnected.
func (c *Connector) ChainID() uint64 {
	if sess := c.provider.Session(); sess != nil {
		return sess.ChainID
	}
	return 0
}

// SwitchChain changes the active chain.
func (c *Connector) SwitchChain(ctx context.Context, chainID uint64) error {
	return c.provider.SwitchChain(ctx, chainID)
}

// Provider exposes the EIP-1193 surface.
func (c *Connector) Provider() *provider.Provider {
	return c.provider
}

// attachListeners wires the host hooks to provider events exactly once.
func (c *Connector) attachListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return
	}
	c.attached = true

	hooks := c.cfg.Hooks
	c.listenerIDs[provider.EventAccountsChanged] = c.provider.On(
		provider.EventAccountsChanged, func(payload any) {
			if hooks.OnAccountsChanged == nil {
				return
			}
			if accounts, ok := payload.([]string); ok {
				hooks.OnAccountsChanged(accounts)
			}
		})
	c.listenerIDs[provider.EventChainChanged] = c.provider.On(
		provider.EventChainChanged, func(payload any) {
			if hooks.OnChainChanged == nil {
				return
			}
			if hexChainID, ok := payload.(string); ok {
				hooks.OnChainChanged(hexChainID)
			}
		})
	c.listenerIDs[provider.EventDisconnect] = c.provider.On(
		provider.EventDisconnect, func(any) {
			if hooks.OnDisconnect != nil {
				hooks.OnDisconnect()
			}
		})
	c.listenerIDs[provider.EventError] = c.provider.On(
		provider.EventError, func(payload any) {
			if hooks.OnError == nil {
				return
			}
			if err, ok := payload.(error); ok {
				hooks.OnError(err)
			}
		})
}

// detachListeners removes previously attached hooks; a second call is a
// no-op.
func (c *Connector) detachListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return
	}
	c.attached = false

	for event, id := range c.listenerIDs {
		c.provider.RemoveListener(event, id)
	}
	c.listenerIDs = make(map[string]int)
}

// nowFunc is swappable in tests.
var nowFunc = time.Now
