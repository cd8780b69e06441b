package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaychat/relaychat/pkg/proto"
)

// fakeConn is a scripted wire connection: the test plays the server by
// pushing events into in and reading client writes from out.
type fakeConn struct {
	in  chan proto.Outbound
	out chan proto.Inbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan proto.Outbound, 16),
		out:    make(chan proto.Inbound, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent(ctx context.Context) (proto.Outbound, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case <-c.closed:
		return proto.Outbound{}, errors.New("connection closed")
	case <-ctx.Done():
		return proto.Outbound{}, ctx.Err()
	}
}

func (c *fakeConn) WriteEvent(ctx context.Context, in proto.Inbound) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.out <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	select {
	case c.in <- proto.Outbound{Type: typ, Payload: raw}:
	case <-time.After(2 * time.Second):
		t.Fatalf("push %s: inbound buffer full", typ)
	}
}

// expectWrite waits for the client to write an event of the given type,
// skipping nothing: out-of-order writes fail the test.
func (c *fakeConn) expectWrite(t *testing.T, typ string) proto.Inbound {
	t.Helper()
	select {
	case in := <-c.out:
		if in.Type != typ {
			t.Fatalf("expected client to write %s, got %s", typ, in.Type)
		}
		return in
	case <-time.After(2 * time.Second):
		t.Fatalf("expected client write %s, got none", typ)
		return proto.Inbound{}
	}
}

func (c *fakeConn) expectNoWrite(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case in := <-c.out:
		t.Fatalf("unexpected client write %s", in.Type)
	case <-time.After(wait):
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // dials to fail before succeeding
	dials    int
	accepted chan *fakeConn
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, accepted: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) DialContext(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.accepted <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// accept waits for the next connection the session dials.
func (d *fakeDialer) accept(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.accepted:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected the session to dial, it never did")
		return nil
	}
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(3 * time.Millisecond)
	}
	t.Fatalf("expected status %v, still %v", want, s.Status())
}

// handshake completes the authenticate exchange on a freshly dialed conn.
func handshake(t *testing.T, s *Session, fc *fakeConn) {
	t.Helper()
	auth := fc.expectWrite(t, proto.TypeAuthenticate)
	var p proto.AuthenticatePayload
	if err := json.Unmarshal(auth.Payload, &p); err != nil {
		t.Fatalf("decode authenticate payload: %v", err)
	}
	if p.Token != s.opts.Token {
		t.Fatalf("expected token %q on the wire, got %q", s.opts.Token, p.Token)
	}
	fc.push(t, proto.TypeAuthenticated, proto.AuthenticatedPayload{UserID: "u-self", Username: "self"})
	waitStatus(t, s, StatusConnected)
}

func newTestSession(d Dialer, tweak func(*Options)) *Session {
	opts := Options{
		URL:            "ws://test/ws",
		Token:          "tok-self",
		Dialer:         d,
		BackoffBase:    2 * time.Millisecond,
		BackoffCap:     10 * time.Millisecond,
		MaxAttempts:    5,
		ConfirmTimeout: 50 * time.Millisecond,
		TypingIdle:     30 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return New(opts)
}
