// Package window manages the browser windows the connector opens for
// authorization and transaction review. Hosts supply the actual
// window-opening capability; this package layers popup-blocking detection,
// window reuse and close monitoring on top of it.
package window

import (
	"context"
	"errors"
)

// ErrPopupBlocked is returned by an Opener when the host environment refused
// to open the window (the browser popup blocker, typically).
var ErrPopupBlocked = errors.New("window: popup blocked")

// Opener is the host capability for opening a browser window or tab.
type Opener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// Window is one open browser window.
type Window interface {
	// Navigate points the window at a new URL. Used to reuse a pre-opened
	// window so the open happens inside the user gesture that dodges popup
	// blockers.
	Navigate(ctx context.Context, url string) error

	// Close closes the window. Closing an already-closed window is a no-op.
	Close() error

	// Done is closed when the window is closed, by us or by the user.
	Done() <-chan struct{}
}

// Notifier presents the blocked-popup retry prompt. At most one prompt is
// visible at a time; Present replaces any prior prompt and Clear removes it.
// It is an injected service rather than ambient global state so hosts can
// route it into their own UI.
type Notifier interface {
	Present(message string, retry func())
	Clear()
}

// NopNotifier discards prompts. Hosts without a user-facing surface use it.
type NopNotifier struct{}

func (NopNotifier) Present(string, func()) {}
func (NopNotifier) Clear()                 {}
