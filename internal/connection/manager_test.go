package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/duel-client/internal/protocol"
)

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	connectFn func(ctx context.Context) error

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte

	messages chan Frame
	errors   chan error
}

func newFakeTransport(connectFn func(ctx context.Context) error) *fakeTransport {
	return &fakeTransport{
		connectFn: connectFn,
		messages:  make(chan Frame, 16),
		errors:    make(chan error, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectFn != nil {
		if err := f.connectFn(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Messages() <-chan Frame { return f.messages }
func (f *fakeTransport) Errors() <-chan error   { return f.errors }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(data string) {
	f.messages <- Frame{Data: []byte(data), ReceivedAt: time.Now()}
}

func (f *fakeTransport) drop(err error) {
	f.errors <- err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer counts transport opens. connectFn receives the 1-based open number.
type fakeDialer struct {
	connectFn func(n int, ctx context.Context) error

	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *fakeDialer) factory(endpoint string) Transport {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.transports) + 1
	t := newFakeTransport(func(ctx context.Context) error {
		if d.connectFn != nil {
			return d.connectFn(n, ctx)
		}
		return nil
	})
	d.transports = append(d.transports, t)
	return t
}

func (d *fakeDialer) opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) latest() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

// recordingSink records dispatched events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) Dispatch(ctx context.Context, ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, ev := range s.events {
		names[i] = ev.Name
	}
	return names
}

func (s *recordingSink) count(name string) int {
	n := 0
	for _, got := range s.names() {
		if got == name {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:       200 * time.Millisecond,
		ReconnectBaseWait:    time.Millisecond,
		ReconnectMaxWait:     5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		QueueSize:            8,
	}
}

func newTestManager(t *testing.T, dialer *fakeDialer) (*Manager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	m := NewManager(testManagerConfig(), dialer.factory, protocol.EventCodec{}, sink, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m, sink
}

const testEndpoint = "ws://game.test/ws"

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()

	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if cfg.ReconnectBaseWait >= cfg.ReconnectMaxWait {
		t.Errorf("ReconnectBaseWait %v should be below ReconnectMaxWait %v", cfg.ReconnectBaseWait, cfg.ReconnectMaxWait)
	}
}

func TestManager_AcquireReusesConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m, sink := newTestManager(t, dialer)
	ctx := context.Background()

	first, err := m.Acquire(ctx, testEndpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	second, err := m.Acquire(ctx, testEndpoint)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if first != second {
		t.Error("expected the same Conn instance")
	}
	if n := dialer.opens(); n != 1 {
		t.Errorf("transport opens = %d, want 1", n)
	}
	if first.Status() != StatusConnected {
		t.Errorf("Status = %v, want connected", first.Status())
	}
	if refs := m.Stats().Refs; refs != 2 {
		t.Errorf("Refs = %d, want 2", refs)
	}

	waitFor(t, "connect event", func() bool { return sink.count(protocol.EventConnect) == 1 })
}

func TestManager_AcquireConcurrent(t *testing.T) {
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
	}
	m, _ := newTestManager(t, dialer)

	const callers = 8
	conns := make([]*Conn, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := m.Acquire(context.Background(), testEndpoint)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if conns[i] != conns[0] {
			t.Fatalf("caller %d got a different Conn", i)
		}
	}
	if n := dialer.opens(); n != 1 {
		t.Errorf("transport opens = %d, want 1", n)
	}
	if refs := m.Stats().Refs; refs != callers {
		t.Errorf("Refs = %d, want %d", refs, callers)
	}
}

func TestManager_AcquireEmptyEndpoint(t *testing.T) {
	m, _ := newTestManager(t, &fakeDialer{})

	if _, err := m.Acquire(context.Background(), ""); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestManager_AcquireFailure(t *testing.T) {
	refused := errors.New("connection refused")
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error { return refused },
	}
	m, _ := newTestManager(t, dialer)

	_, err := m.Acquire(context.Background(), testEndpoint)

	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if cerr.Endpoint != testEndpoint {
		t.Errorf("Endpoint = %q, want %q", cerr.Endpoint, testEndpoint)
	}
	if !errors.Is(err, refused) {
		t.Errorf("err = %v, want wrapped refusal", err)
	}
	if m.Current() != nil {
		t.Error("Current should be nil after failed Acquire")
	}
	if !dialer.latest().isClosed() {
		t.Error("failed transport should be closed")
	}
}

func TestManager_AcquireTimeout(t *testing.T) {
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	sink := &recordingSink{}
	cfg := testManagerConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	m := NewManager(cfg, dialer.factory, protocol.EventCodec{}, sink, nil)

	start := time.Now()
	_, err := m.Acquire(context.Background(), testEndpoint)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Errorf("err = %v, want *ConnectionError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire took %v, want about 20ms", elapsed)
	}
}

func TestManager_AcquireNewEndpointReplaces(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer)
	ctx := context.Background()

	old, err := m.Acquire(ctx, "ws://a.test/ws")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	oldTransport := dialer.latest()

	conn, err := m.Acquire(ctx, "ws://b.test/ws")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if conn == old {
		t.Fatal("expected a new Conn for a new endpoint")
	}
	if old.Status() != StatusDisconnected {
		t.Errorf("old Status = %v, want disconnected", old.Status())
	}
	if !oldTransport.isClosed() {
		t.Error("old transport should be closed")
	}
	if n := dialer.opens(); n != 2 {
		t.Errorf("transport opens = %d, want 2", n)
	}
	if refs := m.Stats().Refs; refs != 1 {
		t.Errorf("Refs = %d, want 1", refs)
	}
}

func TestManager_AcquireConcurrentEndpoints(t *testing.T) {
	gate := make(chan struct{})
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error {
			if n == 1 {
				<-gate
			}
			return nil
		},
	}
	m := NewManager(testManagerConfig(), dialer.factory, protocol.EventCodec{}, &recordingSink{}, nil)

	endpoints := []string{"ws://a.test/ws", "ws://b.test/ws"}
	conns := make([]*Conn, len(endpoints))
	var wg sync.WaitGroup
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			conns[i], _ = m.Acquire(context.Background(), endpoint)
		}(i, endpoint)
	}

	waitFor(t, "first open", func() bool { return dialer.opens() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := dialer.opens(); n != 1 {
		t.Errorf("transport opens while first open is pending = %d, want 1", n)
	}
	close(gate)
	wg.Wait()

	live := 0
	dialer.mu.Lock()
	for _, tr := range dialer.transports {
		if !tr.isClosed() {
			live++
		}
	}
	dialer.mu.Unlock()
	if live != 1 {
		t.Errorf("live transports = %d, want 1", live)
	}

	cur := m.Current()
	if cur == nil || cur.Status() != StatusConnected {
		t.Fatalf("Current = %v, want a connected Conn", cur)
	}
	for i, conn := range conns {
		if conn != nil && conn != cur && conn.Status() != StatusDisconnected {
			t.Errorf("%s: replaced Conn Status = %v, want disconnected", endpoints[i], conn.Status())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Close(ctx)
	if ctx.Err() != nil {
		t.Error("Close timed out waiting for connection goroutines")
	}
}

func TestManager_ReleaseReplacedConn(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer)
	ctx := context.Background()

	old, _ := m.Acquire(ctx, "ws://a.test/ws")
	m.Acquire(ctx, "ws://a.test/ws")

	conn, err := m.Acquire(ctx, "ws://b.test/ws")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Holders of the replaced Conn give their references back.
	for i := 0; i < 3; i++ {
		if err := m.Release(old); err != nil {
			t.Fatalf("Release(old) failed: %v", err)
		}
	}

	if conn.Status() != StatusConnected {
		t.Errorf("Status = %v after releasing the replaced Conn, want connected", conn.Status())
	}
	if refs := m.Stats().Refs; refs != 1 {
		t.Errorf("Refs = %d, want 1", refs)
	}

	if err := m.Release(conn); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if conn.Status() != StatusDisconnected {
		t.Errorf("Status = %v after last Release, want disconnected", conn.Status())
	}
}

func TestManager_AcquireAfterClose(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := m.Acquire(context.Background(), testEndpoint); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Acquire after Close: err = %v, want ErrAlreadyClosed", err)
	}
	if n := dialer.opens(); n != 0 {
		t.Errorf("transport opens = %d, want 0", n)
	}
}

func TestManager_ReleaseRefCounting(t *testing.T) {
	dialer := &fakeDialer{}
	m, sink := newTestManager(t, dialer)
	ctx := context.Background()

	conn, _ := m.Acquire(ctx, testEndpoint)
	m.Acquire(ctx, testEndpoint)

	if err := m.Release(conn); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if conn.Status() != StatusConnected {
		t.Fatalf("Status = %v after first Release, want connected", conn.Status())
	}

	if err := m.Release(conn); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if conn.Status() != StatusDisconnected {
		t.Errorf("Status = %v after last Release, want disconnected", conn.Status())
	}
	if !dialer.latest().isClosed() {
		t.Error("transport should be closed")
	}

	// Idempotent
	if err := m.Release(conn); err != nil {
		t.Errorf("extra Release returned %v", err)
	}
	if err := m.Release(nil); err != nil {
		t.Errorf("Release(nil) returned %v", err)
	}

	waitFor(t, "disconnect event", func() bool { return sink.count(protocol.EventDisconnect) == 1 })
	if n := sink.count(protocol.EventReconnecting); n != 0 {
		t.Errorf("reconnecting events = %d, want 0 after deliberate close", n)
	}
}

func TestManager_DispatchInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	m, sink := newTestManager(t, dialer)

	if _, err := m.Acquire(context.Background(), testEndpoint); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	tr := dialer.latest()
	tr.deliver(`{"event":"match_found","data":{"roomid":"1"}}`)
	tr.deliver(`garbage`)
	tr.deliver(`{"event":"game_start"}`)
	tr.deliver(`{"event":"connect"}`) // reserved, rejected by the codec
	tr.deliver(`{"event":"game_over"}`)

	waitFor(t, "events", func() bool { return len(sink.names()) == 4 })

	want := []string{protocol.EventConnect, protocol.EventMatchFound, protocol.EventGameStart, protocol.EventGameOver}
	got := sink.names()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	stats := m.Stats()
	if stats.FramesReceived != 5 {
		t.Errorf("FramesReceived = %d, want 5", stats.FramesReceived)
	}
	if stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}
}

func TestManager_Send(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer)

	conn, err := m.Acquire(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := conn.Send(protocol.EventJoinRoom, protocol.JoinRoomParams{RoomID: "9"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	tr := dialer.latest()
	tr.mu.Lock()
	sent := tr.sent
	tr.mu.Unlock()
	if len(sent) != 1 || string(sent[0]) != `{"event":"join_room","data":{"roomid":"9"}}` {
		t.Errorf("sent = %q", sent)
	}

	m.Release(conn)

	if err := conn.Send(protocol.EventLeaveRoom, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Release: err = %v, want ErrNotConnected", err)
	}
	if err := m.Send(protocol.EventLeaveRoom, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Manager.Send after Release: err = %v, want ErrNotConnected", err)
	}
}

func TestManager_ReconnectWithinBudget(t *testing.T) {
	dialer := &fakeDialer{}
	m, sink := newTestManager(t, dialer)

	conn, err := m.Acquire(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	waitFor(t, "initial connect", func() bool { return sink.count(protocol.EventConnect) == 1 })

	const disconnects = 3
	for i := 1; i <= disconnects; i++ {
		dialer.latest().drop(errors.New("connection reset"))
		want := i + 1
		waitFor(t, "reconnect", func() bool { return sink.count(protocol.EventConnect) == want })
	}

	if n := dialer.opens(); n != disconnects+1 {
		t.Errorf("transport opens = %d, want %d", n, disconnects+1)
	}
	if n := m.Stats().ReconnectAttempts; n != disconnects {
		t.Errorf("ReconnectAttempts = %d, want %d", n, disconnects)
	}
	if n := sink.count(protocol.EventReconnecting); n != disconnects {
		t.Errorf("reconnecting events = %d, want %d", n, disconnects)
	}
	if n := sink.count(protocol.EventDisconnect); n != disconnects {
		t.Errorf("disconnect events = %d, want %d", n, disconnects)
	}

	names := sink.names()
	if last := names[len(names)-1]; last != protocol.EventConnect {
		t.Errorf("last event = %q, want connect", last)
	}
	if conn.Status() != StatusConnected {
		t.Errorf("Status = %v, want connected", conn.Status())
	}
	if m.Current() != conn {
		t.Error("Conn identity should survive reconnects")
	}
}

func TestManager_ReconnectBudgetExhausted(t *testing.T) {
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error {
			if n >= 2 && n <= 4 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	m, sink := newTestManager(t, dialer)

	conn, err := m.Acquire(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	dialer.latest().drop(errors.New("connection reset"))

	waitFor(t, "reconnect_failed", func() bool { return sink.count(protocol.EventReconnectFailed) == 1 })
	time.Sleep(50 * time.Millisecond)

	if n := dialer.opens(); n != 4 {
		t.Errorf("transport opens = %d, want 4 (1 + 3 attempts)", n)
	}
	if n := sink.count(protocol.EventReconnectFailed); n != 1 {
		t.Errorf("reconnect_failed events = %d, want 1", n)
	}
	if n := sink.count(protocol.EventReconnecting); n != 3 {
		t.Errorf("reconnecting events = %d, want 3", n)
	}
	if n := sink.count(protocol.EventError); n != 3 {
		t.Errorf("error events = %d, want 3", n)
	}
	if conn.Status() != StatusDisconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}

	sink.mu.Lock()
	last := sink.events[len(sink.events)-1]
	sink.mu.Unlock()
	var info protocol.Lifecycle
	if err := last.Decode(&info); err != nil {
		t.Fatalf("decode lifecycle: %v", err)
	}
	if info.Error == "" {
		t.Error("reconnect_failed payload should carry the error")
	}

	// The user may retry: a fresh Conn is opened.
	retry, err := m.Acquire(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("retry Acquire failed: %v", err)
	}
	if retry == conn {
		t.Error("retry should open a new Conn")
	}
	if n := dialer.opens(); n != 5 {
		t.Errorf("transport opens = %d, want 5", n)
	}
}

func TestManager_ReleaseStopsReconnect(t *testing.T) {
	dialer := &fakeDialer{
		connectFn: func(n int, ctx context.Context) error {
			if n >= 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	sink := &recordingSink{}
	cfg := testManagerConfig()
	cfg.MaxReconnectAttempts = 1000
	m := NewManager(cfg, dialer.factory, protocol.EventCodec{}, sink, nil)

	conn, err := m.Acquire(context.Background(), testEndpoint)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	dialer.latest().drop(errors.New("connection reset"))

	waitFor(t, "reconnecting", func() bool { return sink.count(protocol.EventReconnecting) >= 1 })

	if err := m.Release(conn); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Close(ctx)

	opens := dialer.opens()
	time.Sleep(30 * time.Millisecond)
	if n := dialer.opens(); n != opens {
		t.Errorf("transport opens grew from %d to %d after Release", opens, n)
	}
	if n := sink.count(protocol.EventReconnectFailed); n != 0 {
		t.Errorf("reconnect_failed events = %d, want 0", n)
	}
}

func TestManager_Close(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, dialer)

	conn, _ := m.Acquire(context.Background(), testEndpoint)
	m.Acquire(context.Background(), testEndpoint)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if conn.Status() != StatusDisconnected {
		t.Errorf("Status = %v, want disconnected", conn.Status())
	}
	stats := m.Stats()
	if stats.Refs != 0 || stats.Status != StatusDisconnected {
		t.Errorf("stats = %+v, want no refs and disconnected", stats)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusClosing, "closing"},
		{Status(9), "status(9)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
