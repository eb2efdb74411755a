package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anycrawl/anycrawl-mcp-server/internal/protocol"
)

var (
	// ErrStreamClosed is returned by Submit once the stream left Open.
	ErrStreamClosed = errors.New("session closed")
	// ErrStreamBusy is returned by Submit when the reply queue is full.
	ErrStreamBusy = errors.New("session busy")
)

// State is a stream's position in its lifecycle.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher runs one protocol request. The boolean is false when the
// request is a notification and has no response.
type Dispatcher interface {
	Handle(ctx context.Context, req protocol.Request) (protocol.Response, bool)
}

// EventSink is the write side of the open channel.
type EventSink interface {
	WriteEvent(event string, data []byte) error
	WriteComment(text string) error
}

// Options tune a stream.
type Options struct {
	// QueueSize bounds replies waiting to be written. Defaults to 64.
	QueueSize int
	// MaxInFlight bounds concurrent dispatches. Defaults to 8.
	MaxInFlight int
	// KeepAlive is the interval for comment pings; zero disables them.
	KeepAlive time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 8
	}
	return o
}

type pendingReply struct {
	reply chan protocol.Response
}

// Stream is one streaming channel bound to one session id. Requests posted
// to it are dispatched concurrently but replies are written in submission
// order by the Serve loop, the only writer to the sink.
type Stream struct {
	id         string
	createdAt  time.Time
	dispatcher Dispatcher
	logger     *logrus.Entry
	opts       Options

	mu      sync.Mutex
	state   State
	queue   chan *pendingReply
	closing chan struct{}

	inflight errgroup.Group
}

// NewStream creates an Open stream with a fresh id.
func NewStream(d Dispatcher, opts Options, logger *logrus.Entry) *Stream {
	opts = opts.withDefaults()
	id := uuid.NewString()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Stream{
		id:         id,
		createdAt:  time.Now(),
		dispatcher: d,
		logger:     logger.WithField("session_id", id),
		opts:       opts,
		queue:      make(chan *pendingReply, opts.QueueSize),
		closing:    make(chan struct{}),
	}
	s.inflight.SetLimit(opts.MaxInFlight)
	return s
}

// ID returns the session id.
func (s *Stream) ID() string { return s.id }

// CreatedAt returns when the stream was opened.
func (s *Stream) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the stream leaves Open.
func (s *Stream) Done() <-chan struct{} { return s.closing }

// Submit queues req for dispatch and returns without waiting for it to run,
// even when MaxInFlight dispatches are already running. The reply is
// delivered asynchronously on the channel.
func (s *Stream) Submit(req protocol.Request) error {
	var p *pendingReply

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if !req.IsNotification() {
		p = &pendingReply{reply: make(chan protocol.Response, 1)}
		select {
		case s.queue <- p:
		default:
			s.mu.Unlock()
			return ErrStreamBusy
		}
	}
	s.mu.Unlock()

	// Waiting for a dispatch slot happens off the caller's goroutine.
	// In-flight calls outlive a closing channel; their replies are dropped.
	go s.inflight.Go(func() error {
		if s.State() != StateOpen {
			return nil
		}
		resp, ok := s.dispatch(req)
		if ok && p != nil {
			p.reply <- resp
		}
		return nil
	})
	return nil
}

func (s *Stream) dispatch(req protocol.Request) (resp protocol.Response, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("method", req.Method).Errorf("dispatch panic: %v", r)
			resp, ok = protocol.NewError(req.ID, protocol.CodeInternalError, "internal error"), !req.IsNotification()
		}
	}()
	return s.dispatcher.Handle(context.Background(), req)
}

// Serve owns the channel until the client goes away, the stream is closed,
// or a write fails. It first announces endpoint, then writes replies in
// submission order. On return the stream is Closed.
func (s *Stream) Serve(ctx context.Context, sink EventSink, endpoint string) error {
	defer s.finish()

	if err := sink.WriteEvent("endpoint", []byte(endpoint)); err != nil {
		s.Close()
		return fmt.Errorf("write endpoint: %w", err)
	}

	var keepAlive <-chan time.Time
	if s.opts.KeepAlive > 0 {
		ticker := time.NewTicker(s.opts.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.closing:
			return nil
		case <-keepAlive:
			if err := sink.WriteComment("ping"); err != nil {
				s.Close()
				return fmt.Errorf("write keepalive: %w", err)
			}
		case p := <-s.queue:
			var resp protocol.Response
			select {
			case resp = <-p.reply:
			case <-ctx.Done():
				s.Close()
				return nil
			case <-s.closing:
				return nil
			}
			if err := s.writeResponse(sink, resp); err != nil {
				s.Close()
				return err
			}
		}
	}
}

func (s *Stream) writeResponse(sink EventSink, resp protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.WithError(err).Error("encode response")
		data, _ = json.Marshal(protocol.NewError(resp.ID, protocol.CodeInternalError, "encode response failed"))
	}
	if err := sink.WriteEvent("message", data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close moves an Open stream to Closing. It is safe to call repeatedly.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		s.state = StateClosing
		close(s.closing)
	}
}

func (s *Stream) finish() {
	s.Close()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}
