package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"net"
)

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

// UDPSink writes each sample as a single datagram. Go sets SO_BROADCAST on
// UDP sockets, so the limited-broadcast address works without extra setup.
type UDPSink struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

// DialUDP prepares a sink sending to addr ("host:port").
func DialUDP(addr string) (*UDPSink, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve telemetry address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("open telemetry socket: %w", err)
	}
	return &UDPSink{conn: conn, dst: dst}, nil
}

func (s *UDPSink) Name() string { return "udp" }

// Send writes the sample as one datagram, or several split at line
// boundaries when it exceeds MaxDatagram. Observers read lines, so a split
// sample arrives as consecutive datagrams in order.
func (s *UDPSink) Send(_ context.Context, payload []byte) error {
	for _, d := range splitDatagrams(payload, MaxDatagram) {
		if _, err := s.conn.WriteToUDP(d, s.dst); err != nil {
			return err
		}
	}
	return nil
}

// splitDatagrams cuts payload into pieces of at most limit bytes, each
// ending on a newline where possible. A single line longer than limit is
// cut at the limit.
func splitDatagrams(payload []byte, limit int) [][]byte {
	if len(payload) <= limit {
		return [][]byte{payload}
	}
	var out [][]byte
	for len(payload) > limit {
		cut := bytes.LastIndexByte(payload[:limit], '\n') + 1
		if cut == 0 {
			cut = limit
		}
		out = append(out, payload[:cut])
		payload = payload[cut:]
	}
	if len(payload) > 0 {
		out = append(out, payload)
	}
	return out
}

func (s *UDPSink) Close() error { return s.conn.Close() }
