package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

type event struct {
	name string
	data string
}

type recordingSink struct {
	mu       sync.Mutex
	events   []event
	comments int
	failOn   string
	notify   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 128)}
}

func (r *recordingSink) WriteEvent(name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && r.failOn == name {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, event{name: name, data: string(data)})
	r.signal()
	return nil
}

func (r *recordingSink) WriteComment(string) error {
	r.mu.Lock()
	r.comments++
	r.mu.Unlock()
	r.signal()
	return nil
}

func (r *recordingSink) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingSink) messages() []protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Response
	for _, e := range r.events {
		if e.name != "message" {
			continue
		}
		var resp protocol.Response
		_ = json.Unmarshal([]byte(e.data), &resp)
		out = append(out, resp)
	}
	return out
}

func (r *recordingSink) waitMessages(t *testing.T, n int) []protocol.Response {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msgs := r.messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.messages()))
		}
	}
}

// echoDispatcher answers every request with its id as the result, sleeping
// longer for earlier ids so that completions arrive out of order.
type echoDispatcher struct {
	mu      sync.Mutex
	handled []string
	delay   func(id int) time.Duration
	panicOn string
}

func (d *echoDispatcher) Handle(_ context.Context, req protocol.Request) (protocol.Response, bool) {
	d.mu.Lock()
	d.handled = append(d.handled, req.Method)
	d.mu.Unlock()
	if req.Method == d.panicOn {
		panic("boom")
	}
	if req.IsNotification() {
		return protocol.Response{}, false
	}
	if d.delay != nil {
		n, _ := strconv.Atoi(string(req.ID))
		time.Sleep(d.delay(n))
	}
	return protocol.NewResult(req.ID, string(req.ID)), true
}

func request(id int, method string) protocol.Request {
	return protocol.Request{JSONRPC: "2.0", ID: json.RawMessage(strconv.Itoa(id)), Method: method}
}

func serve(t *testing.T, s *Stream, sink EventSink) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, sink, "/sse?sessionId="+s.ID()) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := NewStream(&echoDispatcher{}, Options{}, nil)

	require.NoError(t, r.Register(s))
	assert.ErrorIs(t, r.Register(s), ErrDuplicateSession)

	got, ok := r.Lookup(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(s.ID()))
	assert.False(t, r.Remove(s.ID()))
	_, ok = r.Lookup(s.ID())
	assert.False(t, ok)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewStream(&echoDispatcher{}, Options{}, nil)
			assert.NoError(t, r.Register(s))
			_, ok := r.Lookup(s.ID())
			assert.True(t, ok)
			r.Remove(s.ID())
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}

func TestStreamIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewStream(&echoDispatcher{}, Options{}, nil).ID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestServeAnnouncesEndpointFirst(t *testing.T) {
	s := NewStream(&echoDispatcher{}, Options{}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	<-sink.notify
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.events)
	assert.Equal(t, "endpoint", sink.events[0].name)
	assert.Equal(t, "/sse?sessionId="+s.ID(), sink.events[0].data)
}

func TestRepliesKeepSubmissionOrder(t *testing.T) {
	d := &echoDispatcher{delay: func(id int) time.Duration {
		return time.Duration(10-id) * 5 * time.Millisecond
	}}
	s := NewStream(d, Options{MaxInFlight: 10}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Submit(request(i, "tools/call")))
	}

	msgs := sink.waitMessages(t, 10)
	for i, m := range msgs {
		assert.Equal(t, strconv.Itoa(i), string(m.ID))
	}
}

func TestNotificationsAreNotWritten(t *testing.T) {
	d := &echoDispatcher{}
	s := NewStream(d, Options{}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	require.NoError(t, s.Submit(protocol.Request{JSONRPC: "2.0", Method: "notifications/initialized"}))
	require.NoError(t, s.Submit(request(1, "tools/list")))

	msgs := sink.waitMessages(t, 1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", string(msgs[0].ID))
}

func TestSessionsAreIsolated(t *testing.T) {
	a := NewStream(&echoDispatcher{}, Options{}, nil)
	b := NewStream(&echoDispatcher{}, Options{}, nil)
	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	serve(t, a, sinkA)
	serve(t, b, sinkB)

	require.NoError(t, a.Submit(request(1, "tools/list")))
	require.NoError(t, b.Submit(request(2, "tools/list")))
	require.NoError(t, a.Submit(request(3, "tools/list")))

	msgsA := sinkA.waitMessages(t, 2)
	msgsB := sinkB.waitMessages(t, 1)
	assert.Equal(t, "1", string(msgsA[0].ID))
	assert.Equal(t, "3", string(msgsA[1].ID))
	require.Len(t, msgsB, 1)
	assert.Equal(t, "2", string(msgsB[0].ID))
}

func TestWriteFailureClosesStream(t *testing.T) {
	s := NewStream(&echoDispatcher{}, Options{}, nil)
	sink := newRecordingSink()
	sink.failOn = "message"
	_, done := serve(t, s, sink)

	require.NoError(t, s.Submit(request(1, "tools/list")))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after write failure")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Submit(request(2, "tools/list")), ErrStreamClosed)
}

func TestContextCancelClosesStream(t *testing.T) {
	s := NewStream(&echoDispatcher{}, Options{}, nil)
	cancel, done := serve(t, s, newRecordingSink())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Submit(request(1, "ping")), ErrStreamClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewStream(&echoDispatcher{}, Options{}, nil)
	assert.Equal(t, StateOpen, s.State())
	s.Close()
	s.Close()
	assert.Equal(t, StateClosing, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSubmitBusyWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	d := &blockingDispatcher{release: block}
	s := NewStream(d, Options{QueueSize: 1, MaxInFlight: 4}, nil)
	defer close(block)

	require.NoError(t, s.Submit(request(1, "tools/call")))
	assert.ErrorIs(t, s.Submit(request(2, "tools/call")), ErrStreamBusy)
}

type blockingDispatcher struct {
	release chan struct{}
}

func (b *blockingDispatcher) Handle(_ context.Context, req protocol.Request) (protocol.Response, bool) {
	<-b.release
	return protocol.NewResult(req.ID, nil), true
}

func TestDispatchPanicBecomesInternalError(t *testing.T) {
	s := NewStream(&echoDispatcher{panicOn: "tools/call"}, Options{}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	require.NoError(t, s.Submit(request(9, "tools/call")))
	msgs := sink.waitMessages(t, 1)
	require.NotNil(t, msgs[0].Error)
	assert.Equal(t, protocol.CodeInternalError, msgs[0].Error.Code)
	assert.Equal(t, StateOpen, s.State())
}

func TestKeepAliveWritesComments(t *testing.T) {
	s := NewStream(&echoDispatcher{}, Options{KeepAlive: 10 * time.Millisecond}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := sink.comments
		sink.mu.Unlock()
		if n >= 2 {
			return
		}
		select {
		case <-sink.notify:
		case <-deadline:
			t.Fatalf("expected keepalive comments, got %d", n)
		}
	}
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry()
	streams := []*Stream{
		NewStream(&echoDispatcher{}, Options{}, nil),
		NewStream(&echoDispatcher{}, Options{}, nil),
	}
	for _, s := range streams {
		require.NoError(t, r.Register(s))
	}
	r.CloseAll()
	for _, s := range streams {
		assert.Equal(t, StateClosing, s.State())
	}
}

type gatedDispatcher struct {
	release chan struct{}

	mu      sync.Mutex
	running int
	peak    int
}

func (g *gatedDispatcher) Handle(_ context.Context, req protocol.Request) (protocol.Response, bool) {
	g.mu.Lock()
	g.running++
	if g.running > g.peak {
		g.peak = g.running
	}
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.running--
	g.mu.Unlock()
	return protocol.NewResult(req.ID, string(req.ID)), true
}

func (g *gatedDispatcher) counts() (running, peak int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running, g.peak
}

func submitWithin(t *testing.T, s *Stream, req protocol.Request, limit time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Submit(req) }()
	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("Submit of %s did not return within %s", req.ID, limit)
		return nil
	}
}

func TestSubmitDoesNotWaitForDispatchSlot(t *testing.T) {
	const maxInFlight = 2
	d := &gatedDispatcher{release: make(chan struct{})}
	s := NewStream(d, Options{MaxInFlight: maxInFlight}, nil)
	sink := newRecordingSink()
	serve(t, s, sink)

	for i := 0; i < maxInFlight+2; i++ {
		require.NoError(t, submitWithin(t, s, request(i, "tools/call"), 200*time.Millisecond))
	}

	require.Eventually(t, func() bool {
		running, _ := d.counts()
		return running == maxInFlight
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, peak := d.counts()
	assert.Equal(t, maxInFlight, peak)

	close(d.release)
	msgs := sink.waitMessages(t, maxInFlight+2)
	for i, m := range msgs {
		assert.Equal(t, strconv.Itoa(i), string(m.ID))
	}
}

func TestSubmitAfterCloseReturnsWhileSlotsAreFull(t *testing.T) {
	d := &gatedDispatcher{release: make(chan struct{})}
	defer close(d.release)
	s := NewStream(d, Options{MaxInFlight: 1}, nil)

	require.NoError(t, submitWithin(t, s, request(1, "tools/call"), 200*time.Millisecond))
	require.NoError(t, submitWithin(t, s, request(2, "tools/call"), 200*time.Millisecond))

	s.Close()
	err := submitWithin(t, s, request(3, "tools/call"), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrStreamClosed)
}
