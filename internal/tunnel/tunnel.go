// Package tunnel supervises port-forwarding tunnels: it binds the listening
// socket, bridges connections over the SSH transport, and for persistent
// tunnels re-establishes the transport with exponential backoff after loss.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/aitechnerd/sshore/internal/conn"
)

// ErrorKind classifies tunnel failures.
type ErrorKind int

const (
	// ErrBindFailed means the listening socket could not be bound.
	ErrBindFailed ErrorKind = iota
	// ErrLost means the forwarding channel or transport went away.
	ErrLost
)

// TunnelError wraps a failure with its spec for rendering.
type TunnelError struct {
	Kind ErrorKind
	Spec Spec
	Err  error
}

func (e *TunnelError) Error() string {
	kind := "lost"
	if e.Kind == ErrBindFailed {
		kind = "bind failed"
	}
	return fmt.Sprintf("tunnel %s: %s: %v", e.Spec, kind, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

// StateKind is the tunnel lifecycle phase.
type StateKind int

const (
	StateConnecting StateKind = iota
	StateActive
	StateReconnecting
	StateStopped
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "failed"
	}
}

// Status is a point-in-time tunnel state. Attempt and NextRetry are only
// meaningful while Reconnecting; Reason only while Failed.
type Status struct {
	Kind      StateKind
	Attempt   int
	NextRetry time.Time
	Reason    string
}

// Dialer establishes (or re-establishes) the parent SSH transport.
type Dialer func(ctx context.Context) (*conn.Client, error)

// Tunnel runs one forwarding spec. For local forwards the listener is bound
// once at Start and stays bound across reconnects, so clients accepted
// during a gap queue instead of failing.
type Tunnel struct {
	spec Spec
	dial Dialer

	// OnState observes every state transition. Optional.
	OnState func(Status)

	// Tunables, defaulted in New. Tests shrink them.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	KeepaliveInterval time.Duration
	KeepaliveMax      int

	mu     sync.Mutex
	status Status
	ln     net.Listener

	pending  chan net.Conn
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New prepares a tunnel for spec using dial for transport establishment.
func New(spec Spec, dial Dialer) *Tunnel {
	return &Tunnel{
		spec:              spec,
		dial:              dial,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveMax:      3,
		pending:           make(chan net.Conn, 16),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		status:            Status{Kind: StateConnecting},
	}
}

// Status returns the current state snapshot.
func (t *Tunnel) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Addr returns the bound listener address for local forwards, or "".
func (t *Tunnel) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

func (t *Tunnel) setStatus(st Status) {
	t.mu.Lock()
	t.status = st
	t.mu.Unlock()
	if t.OnState != nil {
		t.OnState(st)
	}
}

// Start binds the local listener (for local forwards) and launches the
// supervision loop. A bind failure is terminal and returns immediately.
func (t *Tunnel) Start() error {
	if t.spec.Direction == DirectionLocal {
		ln, err := net.Listen("tcp", t.spec.Bind())
		if err != nil {
			terr := &TunnelError{Kind: ErrBindFailed, Spec: t.spec, Err: err}
			t.setStatus(Status{Kind: StateFailed, Reason: terr.Error()})
			close(t.doneCh)
			return terr
		}
		t.mu.Lock()
		t.ln = ln
		t.mu.Unlock()
		go t.acceptLoop(ln)
	}

	go t.run()
	return nil
}

// Stop tears the tunnel down from any state and preempts a pending
// reconnect. It blocks until the supervision loop has exited.
func (t *Tunnel) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// Wait blocks until the tunnel reaches a terminal state.
func (t *Tunnel) Wait() {
	<-t.doneCh
}

func (t *Tunnel) acceptLoop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case t.pending <- c:
		case <-t.stopCh:
			c.Close()
			return
		}
	}
}

func (t *Tunnel) run() {
	defer close(t.doneCh)
	defer t.closeListener()

	attempt := 0
	backoff := t.InitialBackoff

	for {
		select {
		case <-t.stopCh:
			t.setStatus(Status{Kind: StateStopped})
			return
		default:
		}

		t.setStatus(Status{Kind: StateConnecting, Attempt: attempt})

		client, err := t.dialOnce()
		if err == nil {
			attempt = 0
			backoff = t.InitialBackoff
			t.setStatus(Status{Kind: StateActive})
			log.Printf("[TUNNEL] %s active", t.spec)

			err = t.serve(client)
			client.Close()
			if err == nil {
				// Stop requested while serving.
				t.setStatus(Status{Kind: StateStopped})
				return
			}
			log.Printf("[TUNNEL] %s lost: %v", t.spec, err)
		}

		if !t.spec.Persist {
			terr := &TunnelError{Kind: ErrLost, Spec: t.spec, Err: err}
			t.setStatus(Status{Kind: StateFailed, Reason: terr.Error()})
			return
		}

		attempt++
		next := time.Now().Add(backoff)
		t.setStatus(Status{Kind: StateReconnecting, Attempt: attempt, NextRetry: next})
		log.Printf("[TUNNEL] %s reconnect attempt %d in %s", t.spec, attempt, backoff)

		select {
		case <-time.After(backoff):
		case <-t.stopCh:
			t.setStatus(Status{Kind: StateStopped})
			return
		}
		backoff *= 2
		if backoff > t.MaxBackoff {
			backoff = t.MaxBackoff
		}
	}
}

// dialOnce runs the dialer with cancellation wired to Stop.
func (t *Tunnel) dialOnce() (*conn.Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return t.dial(ctx)
}

// serve bridges traffic until the transport dies (returns the loss error)
// or Stop is called (returns nil).
func (t *Tunnel) serve(client *conn.Client) error {
	lost := make(chan error, 1)
	down := make(chan struct{})
	kctx, kcancel := context.WithCancel(context.Background())
	defer kcancel()

	go func() {
		if err := client.KeepaliveLoop(kctx, t.KeepaliveInterval, t.KeepaliveMax); err != nil {
			client.Close()
		}
	}()
	go func() {
		werr := client.Wait()
		close(down)
		lost <- werr
	}()

	switch t.spec.Direction {
	case DirectionLocal:
		for {
			select {
			case c := <-t.pending:
				go t.bridge(client, c, down)
			case err := <-lost:
				if err == nil {
					err = fmt.Errorf("transport closed")
				}
				return err
			case <-t.stopCh:
				return nil
			}
		}

	default: // DirectionRemote
		remoteLn, err := client.Listen("tcp", t.spec.Bind())
		if err != nil {
			return fmt.Errorf("remote bind %s: %w", t.spec.Bind(), err)
		}
		defer remoteLn.Close()

		go func() {
			for {
				c, err := remoteLn.Accept()
				if err != nil {
					return
				}
				go t.bridgeRemote(c)
			}
		}()

		select {
		case err := <-lost:
			if err == nil {
				err = fmt.Errorf("transport closed")
			}
			return err
		case <-t.stopCh:
			return nil
		}
	}
}

// bridge connects one accepted local socket to the remote target. A socket
// is requeued only when the transport itself died mid-open, so it survives
// the reconnect gap; a channel rejection over a live transport closes the
// socket instead of retrying.
func (t *Tunnel) bridge(client *conn.Client, local net.Conn, down <-chan struct{}) {
	remote, err := client.Dial("tcp", t.spec.Target())
	if err != nil {
		select {
		case <-down:
			select {
			case t.pending <- local:
			case <-t.stopCh:
				local.Close()
			}
		default:
			log.Printf("[TUNNEL] %s: open to %s failed: %v", t.spec, t.spec.Target(), err)
			local.Close()
		}
		return
	}
	pipe(local, remote)
}

// bridgeRemote connects one remotely accepted socket to the local target.
func (t *Tunnel) bridgeRemote(remote net.Conn) {
	local, err := net.Dial("tcp", t.spec.Target())
	if err != nil {
		remote.Close()
		return
	}
	pipe(remote, local)
}

// pipe copies both directions and closes both ends when either side is done.
func pipe(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(a, b)
		a.Close()
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		b.Close()
	}()
	wg.Wait()
}

func (t *Tunnel) closeListener() {
	t.mu.Lock()
	ln := t.ln
	t.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
}
