// Package authflow orchestrates one OAuth authorization attempt against the
// NYKNYC platform: PKCE setup, authorization window, the race between the
// host's message channel and server-side status polling, and the final code
// exchange.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/nyknyc/nyknyc-go/pkg/api"
	"github.com/nyknyc/nyknyc-go/pkg/pkce"
	"github.com/nyknyc/nyknyc-go/pkg/session"
	"github.com/nyknyc/nyknyc-go/pkg/window"
)

// Message types delivered on the host's auth message channel. In a browser
// host these correspond to same-origin postMessage events from the
// authorization page.
const (
	MessageAuthSuccess = "NYKNYC_AUTH_SUCCESS"
	MessageAuthError   = "NYKNYC_AUTH_ERROR"
)

// Message is one auth completion signal from the host environment.
type Message struct {
	Type   string
	Code   string
	State  string
	Origin string
	Err    string
}

// Default attempt tuning. The grace delay keeps the poller off the backend
// long enough for the fast postMessage path to win in direct flows.
const (
	DefaultTimeout   = 5 * time.Minute
	DefaultPollGrace = 3 * time.Second
)

var (
	// ErrStateMismatch reports an authorization completion whose state token
	// does not match the pending attempt. Treated as CSRF; the attempt
	// aborts.
	ErrStateMismatch = errors.New("authflow: state mismatch, possible CSRF")

	// ErrNoPendingAuth reports a completion arriving with no pending
	// attempt on record.
	ErrNoPendingAuth = errors.New("authflow: no pending authorization, session expired")
)

// Config carries the Flow dependencies.
type Config struct {
	API      *api.Client
	Sessions *session.Store
	Windows  *window.Manager
	PKCE     *pkce.Generator

	// Messages is the host's auth completion channel. May be nil, in which
	// case only the polling path can complete the attempt.
	Messages <-chan Message

	// FrontendURL is the NYKNYC web app root the authorization page lives
	// under, e.g. "https://app.nyknyc.app".
	FrontendURL string

	Timeout   time.Duration
	PollGrace time.Duration
	Logger    *slog.Logger
}

// Flow runs OAuth authorization attempts.
type Flow struct {
	cfg           Config
	trustedOrigin string
	logger        *slog.Logger
}

// New creates a Flow. The trusted message origin is derived from the
// frontend URL; messages from any other origin are ignored.
func New(cfg Config) (*Flow, error) {
	parsed, err := url.Parse(cfg.FrontendURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("authflow: invalid frontend URL %q", cfg.FrontendURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollGrace <= 0 {
		cfg.PollGrace = DefaultPollGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		cfg:           cfg,
		trustedOrigin: parsed.Scheme + "://" + parsed.Host,
		logger:        logger,
	}, nil
}

// AuthorizeURL builds the authorization page URL for a PKCE triple.
func (f *Flow) AuthorizeURL(triple pkce.Challenge) string {
	params := url.Values{}
	params.Set("app_id", f.cfg.API.AppID())
	params.Set("code_challenge", triple.Challenge)
	params.Set("code_challenge_method", triple.Method)
	params.Set("state", triple.State)
	params.Set("callback_origin", f.trustedOrigin)

	return f.cfg.FrontendURL + "/auth?" + params.Encode()
}

// Authenticate runs one complete authorization attempt and returns the
// resulting session, already persisted. The attempt is bounded by the
// configured ceiling regardless of which completion path is pending.
func (f *Flow) Authenticate(ctx context.Context) (*session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	triple, err := f.cfg.PKCE.GenerateAll()
	if err != nil {
		return nil, err
	}

	pending := session.PendingAuth{
		Verifier:  triple.Verifier,
		Challenge: triple.Challenge,
		State:     triple.State,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.cfg.Sessions.SavePendingAuth(ctx, pending); err != nil {
		return nil, err
	}

	w, err := f.cfg.Windows.Open(ctx, f.AuthorizeURL(triple))
	if err != nil {
		f.cfg.Sessions.DeletePendingAuth(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("authflow: open authorization window: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Manual close is informative only. External identity redirects close
	// the window incidentally, so polling keeps going.
	f.cfg.Windows.WatchClose(ctx, w, func() {
		f.logger.Debug("authflow: authorization window closed by user")
	})

	code, state, err := f.race(ctx, triple.State)
	if err != nil {
		f.cfg.Sessions.DeletePendingAuth(context.WithoutCancel(ctx))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("authflow: authorization timed out after %s", f.cfg.Timeout)
		}
		return nil, err
	}

	return f.Exchange(ctx, code, state)
}

// completion is one definitive result from either race path.
type completion struct {
	code  string
	state string
	err   error
}

// race waits for the first definitive completion from the host message
// channel or the server-side status poll. The losing path is cancelled and
// its in-flight work ignored; exactly one resolution is delivered.
func (f *Flow) race(ctx context.Context, state string) (code, gotState string, err error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan completion, 2)

	go f.watchMessages(raceCtx, results)

	go func() {
		// Grace delay before touching the poll endpoint.
		if err := sleepCtx(raceCtx, f.cfg.PollGrace); err != nil {
			return
		}
		polled, pollErr := f.cfg.API.WaitForAuthCode(raceCtx, state)
		if raceCtx.Err() != nil {
			return // lost the race
		}
		if pollErr != nil {
			results <- completion{err: fmt.Errorf("authflow: status poll: %w", pollErr)}
			return
		}
		f.logger.Debug("authflow: completed via status polling")
		results <- completion{code: polled, state: state}
	}()

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case r := <-results:
		return r.code, r.state, r.err
	}
}

// watchMessages consumes the host channel until a trusted definitive
// message arrives.
func (f *Flow) watchMessages(ctx context.Context, results chan<- completion) {
	if f.cfg.Messages == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-f.cfg.Messages:
			if !ok {
				return
			}
			if msg.Origin != f.trustedOrigin {
				f.logger.Warn("authflow: ignoring auth message from untrusted origin",
					"origin", msg.Origin)
				continue
			}

			switch msg.Type {
			case MessageAuthSuccess:
				f.logger.Debug("authflow: completed via host message")
				results <- completion{code: msg.Code, state: msg.State}
				return
			case MessageAuthError:
				results <- completion{err: fmt.Errorf("authflow: authorization failed: %s",
					nonEmpty(msg.Err, "unknown error"))}
				return
			}
		}
	}
}

// Exchange validates a completion against the pending attempt, trades the
// code for tokens, fetches the wallet identity and persists the session.
// The pending attempt is deleted on every path out.
func (f *Flow) Exchange(ctx context.Context, code, state string) (*session.Session, error) {
	defer f.cfg.Sessions.DeletePendingAuth(context.WithoutCancel(ctx))

	pending, err := f.cfg.Sessions.LoadPendingAuth(ctx)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrNoPendingAuth
	}
	if state != pending.State {
		return nil, ErrStateMismatch
	}

	tokens, err := f.cfg.API.ExchangeAuthorizationCode(ctx, code, pending.Verifier)
	if err != nil {
		return nil, fmt.Errorf("authflow: code exchange: %w", err)
	}

	info, err := f.cfg.API.GetUserInfo(ctx, tokens.AccessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("authflow: fetch identity: %w", err)
	}

	sess := session.New(tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn,
		info.WalletAddress, info.CurrentChainID, info.SupportedChains)
	if err := f.cfg.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	f.logger.Info("authflow: authenticated", "address", sess.Address, "chain_id", sess.ChainID)
	return &sess, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
