package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// promptNotifier records prompts and exposes the retry callback.
type promptNotifier struct {
	mu      sync.Mutex
	retries []func()
	cleared int
}

func (n *promptNotifier) Present(_ string, retry func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retries = append(n.retries, retry)
}

func (n *promptNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared++
}

func (n *promptNotifier) lastRetry() func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.retries) == 0 {
		return nil
	}
	return n.retries[len(n.retries)-1]
}

func TestOpenDirect(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	m := NewManager(opener, nil, nil)

	w, err := m.Open(context.Background(), "https://app.nyknyc.app/auth")
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, []string{"https://app.nyknyc.app/auth"}, opener.OpenedURLs())
}

func TestOpenReusesPreOpenedWindow(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	m := NewManager(opener, nil, nil)

	m.PreOpen(context.Background())
	w, err := m.Open(context.Background(), "https://app.nyknyc.app/auth")
	require.NoError(t, err)

	// Only the about:blank open created a window; the auth URL arrived via
	// Navigate on the reused one, recorded after it.
	require.Equal(t, []string{"about:blank", "https://app.nyknyc.app/auth"}, opener.OpenedURLs())
	require.Len(t, opener.Windows(), 1)
	fake, ok := w.(*FakeWindow)
	require.True(t, ok)
	require.Equal(t, "https://app.nyknyc.app/auth", fake.URL())
}

func TestFakeOpenerRecordsNavigations(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	w, err := opener.Open(context.Background(), "about:blank")
	require.NoError(t, err)

	require.NoError(t, w.Navigate(context.Background(), "https://app.nyknyc.app/auth"))
	require.Equal(t, []string{"about:blank", "https://app.nyknyc.app/auth"}, opener.OpenedURLs())

	// Closed windows stop recording along with navigating.
	require.NoError(t, w.Close())
	require.Error(t, w.Navigate(context.Background(), "https://app.nyknyc.app/other"))
	require.Equal(t, []string{"about:blank", "https://app.nyknyc.app/auth"}, opener.OpenedURLs())
}

func TestOpenSkipsClosedPreOpenedWindow(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	m := NewManager(opener, nil, nil)

	m.PreOpen(context.Background())
	require.NoError(t, opener.Windows()[0].Close())

	_, err := m.Open(context.Background(), "https://app.nyknyc.app/auth")
	require.NoError(t, err)
	require.Equal(t, []string{"about:blank", "https://app.nyknyc.app/auth"}, opener.OpenedURLs())
}

func TestOpenBlockedThenRetried(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	notifier := &promptNotifier{}
	m := NewManager(opener, notifier, nil)

	opener.Block()

	done := make(chan struct{})
	var w Window
	var openErr error
	go func() {
		defer close(done)
		w, openErr = m.Open(context.Background(), "https://app.nyknyc.app/auth")
	}()

	// Wait for the prompt to appear, then unblock and retry.
	require.Eventually(t, func() bool { return notifier.lastRetry() != nil },
		time.Second, 5*time.Millisecond)
	opener.Unblock()
	notifier.lastRetry()()

	<-done
	require.NoError(t, openErr)
	require.NotNil(t, w)
}

func TestOpenBlockedTimesOut(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	opener.Block()
	m := NewManager(opener, &promptNotifier{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Open(ctx, "https://app.nyknyc.app/auth")
	require.Error(t, err)
}

func TestWatchClose(t *testing.T) {
	t.Parallel()

	opener := NewFakeOpener()
	m := NewManager(opener, nil, nil)

	w, err := m.Open(context.Background(), "https://app.nyknyc.app/auth")
	require.NoError(t, err)

	closed := make(chan struct{})
	m.WatchClose(context.Background(), w, func() { close(closed) })

	require.NoError(t, w.Close())
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close was not observed")
	}
}
