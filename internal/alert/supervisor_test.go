// ABOUTME: Tests for the alert supervisor using a scripted price source and notifier
// ABOUTME: Covers immediate firing, single notification, stop, retries and shutdown

package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/chat"
	"github.com/2389/errand/internal/fault"
	"github.com/2389/errand/internal/store"
)

type fakePrices struct {
	mu     sync.Mutex
	price  float64
	err    error
	calls  int
	panics bool
}

func (f *fakePrices) Price(ctx context.Context, coinID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("feed exploded")
	}
	return f.price, f.err
}

func (f *fakePrices) set(price float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.err = price, err
}

func (f *fakePrices) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	chats []string
	fail  error
}

func (n *fakeNotifier) Send(ctx context.Context, chatID string, r chat.Reply) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, r.Text)
	n.chats = append(n.chats, chatID)
	return nil
}

func (n *fakeNotifier) setFail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func btcWatch(target float64) Watch {
	return Watch{
		ChatID: "42",
		Key:    chat.Key("telegram:42"),
		Symbol: "btc",
		CoinID: "bitcoin",
		Target: target,
	}
}

func newTestSupervisor(t *testing.T, prices PriceSource, n chat.Sender, ledger store.Ledger) *Supervisor {
	t.Helper()
	s := NewSupervisor(prices, n, Options{Interval: 10 * time.Millisecond, Ledger: ledger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitStatus(t *testing.T, s *Supervisor, id string, want Status) Watcher {
	t.Helper()
	var w Watcher
	require.Eventually(t, func() bool {
		var err error
		w, err = s.Get(id)
		return err == nil && w.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return w
}

func TestSupervisor_FiresImmediatelyWhenAlreadyAboveTarget(t *testing.T) {
	prices := &fakePrices{price: 51000}
	n := &fakeNotifier{}
	s := newTestSupervisor(t, prices, n, nil)

	id, err := s.Start(btcWatch(50000))
	require.NoError(t, err)

	w := waitStatus(t, s, id, StatusFired)
	assert.Equal(t, 51000.0, w.LastPrice)
	assert.Equal(t, []string{"🚨 BTC has reached $51000!"}, n.messages())
}

func TestSupervisor_NotifiesExactlyOnce(t *testing.T) {
	prices := &fakePrices{price: 40000}
	n := &fakeNotifier{}
	s := newTestSupervisor(t, prices, n, nil)

	id, err := s.Start(btcWatch(50000))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return prices.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, n.messages())

	prices.set(50000, nil)
	waitStatus(t, s, id, StatusFired)

	calls := prices.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, prices.callCount(), "fired watcher must stop polling")
	assert.Len(t, n.messages(), 1)
	assert.Equal(t, "🚨 BTC has reached $50000!", n.messages()[0])
}

func TestSupervisor_PriceErrorsAreRetried(t *testing.T) {
	prices := &fakePrices{err: fault.New(fault.SourcePrice, fault.KindRateLimited, "status 429", nil)}
	n := &fakeNotifier{}
	s := newTestSupervisor(t, prices, n, nil)

	id, err := s.Start(btcWatch(100))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return prices.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	w, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, w.Status)

	prices.set(150.5, nil)
	waitStatus(t, s, id, StatusFired)
	assert.Equal(t, []string{"🚨 BTC has reached $150.5!"}, n.messages())
}

func TestSupervisor_SendFailureKeepsWatcherRunning(t *testing.T) {
	prices := &fakePrices{price: 60000}
	n := &fakeNotifier{fail: errors.New("chat unreachable")}
	s := newTestSupervisor(t, prices, n, nil)

	id, err := s.Start(btcWatch(50000))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return prices.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	w, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, w.Status)

	n.setFail(nil)
	waitStatus(t, s, id, StatusFired)
	assert.Len(t, n.messages(), 1)
}

func TestSupervisor_Stop(t *testing.T) {
	prices := &fakePrices{price: 1}
	n := &fakeNotifier{}
	ledger := store.NewMockStore()
	s := newTestSupervisor(t, prices, n, ledger)

	id, err := s.Start(btcWatch(50000))
	require.NoError(t, err)

	require.NoError(t, s.Stop(id))
	w := waitStatus(t, s, id, StatusStopped)
	assert.False(t, w.EndedAt.IsZero())

	// stopping again is a no-op
	require.NoError(t, s.Stop(id))
	assert.ErrorIs(t, s.Stop("nope"), ErrWatcherNotFound)

	var types []store.EventType
	for _, e := range ledger.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []store.EventType{store.EventTypeAlertArmed, store.EventTypeAlertHalted}, types)
}

func TestSupervisor_FiredWatcherStaysFired(t *testing.T) {
	prices := &fakePrices{price: 10}
	s := newTestSupervisor(t, prices, &fakeNotifier{}, nil)

	id, err := s.Start(btcWatch(5))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusFired)

	require.NoError(t, s.Stop(id))
	w, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFired, w.Status)
}

func TestSupervisor_RecordsLedgerEvents(t *testing.T) {
	ledger := store.NewMockStore()
	s := newTestSupervisor(t, &fakePrices{price: 10}, &fakeNotifier{}, ledger)

	id, err := s.Start(btcWatch(5))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusFired)

	require.Eventually(t, func() bool { return len(ledger.Events()) == 2 }, time.Second, 5*time.Millisecond)
	events := ledger.Events()
	assert.Equal(t, store.EventTypeAlertArmed, events[0].Type)
	assert.Equal(t, "telegram:42", events[0].ConversationKey)
	require.NotNil(t, events[0].Text)
	assert.Equal(t, "BTC >= 5", *events[0].Text)
	assert.Equal(t, store.EventTypeAlertFired, events[1].Type)
	assert.Equal(t, "setalert", events[1].Flow)
}

func TestSupervisor_StartValidation(t *testing.T) {
	s := newTestSupervisor(t, &fakePrices{}, &fakeNotifier{}, nil)

	_, err := s.Start(btcWatch(0))
	assert.Error(t, err)

	w := btcWatch(10)
	w.ChatID = ""
	_, err = s.Start(w)
	assert.Error(t, err)
}

func TestSupervisor_PanicStopsOnlyThatWatcher(t *testing.T) {
	bad := &fakePrices{panics: true}
	s := newTestSupervisor(t, bad, &fakeNotifier{}, nil)

	id, err := s.Start(btcWatch(10))
	require.NoError(t, err)
	waitStatus(t, s, id, StatusStopped)

	// supervisor still accepts new watchers
	bad.mu.Lock()
	bad.panics = false
	bad.price = 20
	bad.mu.Unlock()

	id2, err := s.Start(btcWatch(10))
	require.NoError(t, err)
	waitStatus(t, s, id2, StatusFired)
}

func TestSupervisor_ListAndShutdown(t *testing.T) {
	s := NewSupervisor(&fakePrices{price: 1}, &fakeNotifier{}, Options{Interval: 10 * time.Millisecond})

	a, err := s.Start(btcWatch(100))
	require.NoError(t, err)
	other := btcWatch(200)
	other.ChatID = "7"
	other.Key = "telegram:7"
	_, err = s.Start(other)
	require.NoError(t, err)

	mine := s.List("telegram:42")
	require.Len(t, mine, 1)
	assert.Equal(t, a, mine[0].ID)
	assert.Len(t, s.List(""), 2)
	assert.Equal(t, 2, s.Running())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, 0, s.Running())
	for _, w := range s.List("") {
		assert.Equal(t, StatusStopped, w.Status)
	}

	_, err = s.Start(btcWatch(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "50000", FormatPrice(50000))
	assert.Equal(t, "0.25", FormatPrice(0.25))
	assert.Equal(t, "ETH", Symbol("eth"))
	assert.Equal(t, "🚨 ETH has reached $3200.75!", NotificationText("eth", 3200.75))
}

// stallingLedger blocks every write until release is closed.
type stallingLedger struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *stallingLedger) SaveEvent(ctx context.Context, event *store.LedgerEvent) error {
	l.once.Do(func() { close(l.entered) })
	select {
	case <-l.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSupervisor_SlowLedgerDoesNotBlockQueries(t *testing.T) {
	ledger := &stallingLedger{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestSupervisor(t, &fakePrices{price: 1}, &fakeNotifier{}, ledger)
	defer close(ledger.release)

	started := make(chan string, 1)
	go func() {
		id, err := s.Start(btcWatch(100))
		assert.NoError(t, err)
		started <- id
	}()

	var id string
	select {
	case id = <-started:
	case <-time.After(time.Second):
		t.Fatal("Start blocked on the ledger")
	}

	select {
	case <-ledger.entered:
	case <-time.After(time.Second):
		t.Fatal("armed event was never written")
	}

	queried := make(chan struct{})
	go func() {
		defer close(queried)
		w, err := s.Get(id)
		assert.NoError(t, err)
		assert.Equal(t, StatusRunning, w.Status)
		assert.Len(t, s.List(btcWatch(100).Key), 1)
		assert.Equal(t, 1, s.Running())
	}()
	select {
	case <-queried:
	case <-time.After(time.Second):
		t.Fatal("queries blocked while the ledger write was pending")
	}
}
