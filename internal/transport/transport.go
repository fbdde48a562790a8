// Package transport wraps the scalability-protocol sockets the broker uses
// on the network: a PULL socket for PLC updates and a REQ/REP pair for
// endpoint discovery.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"nanomsg.org/go-mangos"
	"nanomsg.org/go-mangos/protocol/pull"
	"nanomsg.org/go-mangos/protocol/push"
	"nanomsg.org/go-mangos/protocol/rep"
	"nanomsg.org/go-mangos/protocol/req"
	"nanomsg.org/go-mangos/transport/tcp"
)

var (
	// ErrTimeout is returned by Recv when a receive deadline expires.
	ErrTimeout = errors.New("transport: receive timed out")
	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("transport: socket closed")
)

// TCPAddr formats a mangos TCP address.
func TCPAddr(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func newSocket(open func() (mangos.Socket, error), recvTimeout time.Duration) (mangos.Socket, error) {
	sock, err := open()
	if err != nil {
		return nil, err
	}
	sock.AddTransport(tcp.NewTransport())
	if recvTimeout > 0 {
		if err := sock.SetOption(mangos.OptionRecvDeadline, recvTimeout); err != nil {
			sock.Close()
			return nil, fmt.Errorf("set receive deadline: %w", err)
		}
	}
	return sock, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mangos.ErrRecvTimeout), errors.Is(err, mangos.ErrSendTimeout):
		return ErrTimeout
	case errors.Is(err, mangos.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}

// PullSocket receives fire-and-forget messages from any number of pushers.
type PullSocket struct {
	sock mangos.Socket
}

// ListenPull binds a PULL socket. A zero recvTimeout blocks indefinitely.
func ListenPull(addr string, recvTimeout time.Duration) (*PullSocket, error) {
	sock, err := newSocket(pull.NewSocket, recvTimeout)
	if err != nil {
		return nil, fmt.Errorf("pull socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &PullSocket{sock: sock}, nil
}

func (p *PullSocket) Recv() ([]byte, error) {
	msg, err := p.sock.Recv()
	return msg, mapErr(err)
}

// Close unblocks a pending Recv with ErrClosed.
func (p *PullSocket) Close() error { return mapErr(p.sock.Close()) }

// PushSocket sends to a PULL peer. It backs the example endpoint client.
type PushSocket struct {
	sock mangos.Socket
}

// DialPush connects a PUSH socket to addr.
func DialPush(addr string) (*PushSocket, error) {
	sock, err := newSocket(push.NewSocket, 0)
	if err != nil {
		return nil, fmt.Errorf("push socket: %w", err)
	}
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &PushSocket{sock: sock}, nil
}

func (p *PushSocket) Send(msg []byte) error { return mapErr(p.sock.Send(msg)) }

func (p *PushSocket) Close() error { return mapErr(p.sock.Close()) }

// ReplySocket answers requests one at a time: each Recv must be followed by
// a Send before the next Recv.
type ReplySocket struct {
	sock mangos.Socket
}

// ListenReply binds a REP socket. A zero recvTimeout blocks indefinitely.
func ListenReply(addr string, recvTimeout time.Duration) (*ReplySocket, error) {
	sock, err := newSocket(rep.NewSocket, recvTimeout)
	if err != nil {
		return nil, fmt.Errorf("rep socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &ReplySocket{sock: sock}, nil
}

func (r *ReplySocket) Recv() ([]byte, error) {
	msg, err := r.sock.Recv()
	return msg, mapErr(err)
}

func (r *ReplySocket) Send(msg []byte) error { return mapErr(r.sock.Send(msg)) }

func (r *ReplySocket) Close() error { return mapErr(r.sock.Close()) }

// Requester performs single request/reply exchanges with peers listening on
// Port. Each Request uses its own connection.
type Requester struct {
	Port int
	// Timeout bounds the wait for a reply; zero waits until ctx is done.
	Timeout time.Duration
}

// Request sends msg to host and returns the reply.
func (r Requester) Request(ctx context.Context, host string, msg []byte) ([]byte, error) {
	sock, err := newSocket(req.NewSocket, r.Timeout)
	if err != nil {
		return nil, fmt.Errorf("req socket: %w", err)
	}

	var once sync.Once
	closeSock := func() { once.Do(func() { sock.Close() }) }
	defer closeSock()

	stop := context.AfterFunc(ctx, closeSock)
	defer stop()

	addr := TCPAddr(host, r.Port)
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := sock.Send(msg); err != nil {
		return nil, r.ctxErr(ctx, fmt.Errorf("send to %s: %w", addr, mapErr(err)))
	}
	reply, err := sock.Recv()
	if err != nil {
		return nil, r.ctxErr(ctx, fmt.Errorf("reply from %s: %w", addr, mapErr(err)))
	}
	return reply, nil
}

func (r Requester) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}
