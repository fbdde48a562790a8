package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"nanomsg.org/go-mangos"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestTCPAddr(t *testing.T) {
	if got := TCPAddr("10.0.0.2", 6666); got != "tcp://10.0.0.2:6666" {
		t.Fatalf("TCPAddr = %q", got)
	}
}

func TestPushPullDelivers(t *testing.T) {
	addr := TCPAddr("127.0.0.1", freePort(t))
	pull, err := ListenPull(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("ListenPull: %v", err)
	}
	defer pull.Close()

	push, err := DialPush(addr)
	if err != nil {
		t.Fatalf("DialPush: %v", err)
	}
	defer push.Close()

	if err := push.Send([]byte("valve1:42.5")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := pull.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(msg) != "valve1:42.5" {
		t.Fatalf("Recv = %q", msg)
	}
}

func TestPullRecvTimeout(t *testing.T) {
	pull, err := ListenPull(TCPAddr("127.0.0.1", freePort(t)), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("ListenPull: %v", err)
	}
	defer pull.Close()

	if _, err := pull.Recv(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Recv error = %v, want ErrTimeout", err)
	}
}

func TestPullCloseUnblocksRecv(t *testing.T) {
	pull, err := ListenPull(TCPAddr("127.0.0.1", freePort(t)), 0)
	if err != nil {
		t.Fatalf("ListenPull: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := pull.Recv()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	pull.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Recv error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Recv still blocked after Close")
	}
}

func TestRequestReply(t *testing.T) {
	port := freePort(t)
	rep, err := ListenReply(TCPAddr("127.0.0.1", port), 2*time.Second)
	if err != nil {
		t.Fatalf("ListenReply: %v", err)
	}
	defer rep.Close()

	go func() {
		msg, err := rep.Recv()
		if err != nil {
			return
		}
		_ = rep.Send([]byte(fmt.Sprintf("ack %s", msg)))
	}()

	r := Requester{Port: port, Timeout: 2 * time.Second}
	reply, err := r.Request(context.Background(), "127.0.0.1", []byte("hello"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != "ack hello" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestRequestHonoursContext(t *testing.T) {
	r := Requester{Port: freePort(t)}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := r.Request(ctx, "127.0.0.1", []byte("anyone?"))
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Request to a silent port succeeded")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Request ignored context cancellation")
	}
}

func TestMapErrUsesSocketErrorValues(t *testing.T) {
	if err := mapErr(mangos.ErrRecvTimeout); err != ErrTimeout {
		t.Fatalf("mapErr(ErrRecvTimeout) = %v, want ErrTimeout", err)
	}
	if err := mapErr(mangos.ErrSendTimeout); err != ErrTimeout {
		t.Fatalf("mapErr(ErrSendTimeout) = %v, want ErrTimeout", err)
	}
	if err := mapErr(mangos.ErrClosed); err != ErrClosed {
		t.Fatalf("mapErr(ErrClosed) = %v, want ErrClosed", err)
	}
	other := errors.New("boom")
	if err := mapErr(other); err != other {
		t.Fatalf("mapErr passed through %v, want %v", err, other)
	}
}

func TestRecvAfterCloseIsErrClosed(t *testing.T) {
	rep, err := ListenReply(TCPAddr("127.0.0.1", freePort(t)), 0)
	if err != nil {
		t.Fatalf("ListenReply: %v", err)
	}
	if err := rep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := rep.Recv(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recv after Close = %v, want ErrClosed", err)
	}
}
