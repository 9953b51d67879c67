package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager opens windows through the host's Opener, reusing a pre-opened
// window when one is available, detecting popup blocking and offering a
// retry through the Notifier.
type Manager struct {
	opener   Opener
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	preOpened Window
}

// NewManager creates a window manager. A nil notifier defaults to
// NopNotifier.
func NewManager(opener Opener, notifier Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opener: opener, notifier: notifier, logger: logger}
}

// PreOpen opens a blank window ahead of time, inside a user gesture, so a
// later Open can reuse it without tripping the popup blocker. Failure is
// non-fatal; Open falls back to a direct open.
func (m *Manager) PreOpen(ctx context.Context) {
	w, err := m.opener.Open(ctx, "about:blank")
	if err != nil {
		m.logger.Debug("window: pre-open failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preOpened != nil {
		_ = m.preOpened.Close()
	}
	m.preOpened = w
}

// Open returns a window showing url, reusing the pre-opened window when one
// exists. When the open is blocked, the notifier presents a retry prompt and
// Open waits for the retry to succeed or ctx to expire.
func (m *Manager) Open(ctx context.Context, url string) (Window, error) {
	if w := m.takePreOpened(); w != nil {
		if err := w.Navigate(ctx, url); err == nil {
			return w, nil
		}
		// Reuse failed (window closed in the meantime); fall through to a
		// fresh open.
		_ = w.Close()
	}

	w, err := m.opener.Open(ctx, url)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrPopupBlocked) {
		return nil, err
	}

	return m.retryBlocked(ctx, url)
}

// retryBlocked presents the retry prompt and waits for a user-initiated
// retry to produce a window.
func (m *Manager) retryBlocked(ctx context.Context, url string) (Window, error) {
	m.logger.Info("window: popup blocked, prompting for retry", "url", url)

	type result struct {
		w   Window
		err error
	}
	results := make(chan result, 1)

	m.notifier.Present("Your browser blocked the NYKNYC window. Click to retry.", func() {
		w, err := m.opener.Open(ctx, url)
		select {
		case results <- result{w: w, err: err}:
		default:
		}
	})
	defer m.notifier.Clear()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("window: popup blocked and retry not taken: %w", ctx.Err())
		case r := <-results:
			if errors.Is(r.err, ErrPopupBlocked) {
				// Still blocked; leave the prompt up for another attempt.
				continue
			}
			return r.w, r.err
		}
	}
}

// WatchClose invokes onClose when the window is closed manually. Monitoring
// stops when ctx is cancelled. The callback fires at most once.
func (m *Manager) WatchClose(ctx context.Context, w Window, onClose func()) {
	go func() {
		select {
		case <-ctx.Done():
		case <-w.Done():
			onClose()
		}
	}()
}

func (m *Manager) takePreOpened() Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.preOpened
	m.preOpened = nil
	if w == nil {
		return nil
	}

	select {
	case <-w.Done():
		// User already closed it.
		return nil
	default:
		return w
	}
}
