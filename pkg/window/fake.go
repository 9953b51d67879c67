package window

import (
	"context"
	"sync"
)

// FakeOpener is an in-process Opener for tests and headless hosts. It
// records every opened URL and can simulate popup blocking.
type FakeOpener struct {
	mu      sync.Mutex
	opened  []string
	windows []*FakeWindow

	// Block makes the next Open calls fail with ErrPopupBlocked until
	// Unblock is called.
	blocked bool
}

// NewFakeOpener creates an opener that always succeeds.
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{}
}

func (f *FakeOpener) Open(_ context.Context, url string) (Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.blocked {
		return nil, ErrPopupBlocked
	}

	w := &FakeWindow{opener: f, url: url, done: make(chan struct{})}
	f.opened = append(f.opened, url)
	f.windows = append(f.windows, w)
	return w, nil
}

func (f *FakeOpener) record(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
}

// Block makes subsequent Open calls fail with ErrPopupBlocked.
func (f *FakeOpener) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
}

// Unblock restores normal opening.
func (f *FakeOpener) Unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = false
}

// OpenedURLs returns every URL opened or navigated to, in order.
func (f *FakeOpener) OpenedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Windows returns the windows opened so far.
func (f *FakeOpener) Windows() []*FakeWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeWindow(nil), f.windows...)
}

// FakeWindow is the Window produced by FakeOpener.
type FakeWindow struct {
	opener *FakeOpener

	mu     sync.Mutex
	url    string
	done   chan struct{}
	closed bool
}

func (w *FakeWindow) Navigate(_ context.Context, url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return context.Canceled
	}
	w.url = url
	w.opener.record(url)
	return nil
}

func (w *FakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
	return nil
}

func (w *FakeWindow) Done() <-chan struct{} { return w.done }

// URL returns the window's current URL.
func (w *FakeWindow) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}
