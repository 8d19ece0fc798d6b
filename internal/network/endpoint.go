// Package network owns the game's UDP socket: a receiver that turns
// datagrams into packets on the inbound queue and a sender that drains the
// outbound queue onto the wire.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/veltro-project/blazingbarrels/internal/protocol"
	"github.com/veltro-project/blazingbarrels/internal/util"
)

// Listen binds the game socket on addr with SO_REUSEADDR. The socket is
// closed when ctx is cancelled, which unblocks both endpoint loops.
func Listen(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind game socket on %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return conn, nil
}

// Stats counts traffic seen by the endpoints.
type Stats struct {
	Received  uint64 `json:"received"`
	Discarded uint64 `json:"discarded"`
	Throttled uint64 `json:"throttled"`
	Sent      uint64 `json:"sent"`
	SendFails uint64 `json:"send_failures"`
}

// Counters is shared by a Receiver and a Sender so one snapshot covers both.
type Counters struct {
	received  atomic.Uint64
	discarded atomic.Uint64
	throttled atomic.Uint64
	sent      atomic.Uint64
	sendFails atomic.Uint64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Received:  c.received.Load(),
		Discarded: c.discarded.Load(),
		Throttled: c.throttled.Load(),
		Sent:      c.sent.Load(),
		SendFails: c.sendFails.Load(),
	}
}

// Receiver reads datagrams, decodes them and pushes the results onto the
// inbound queue. Undecodable datagrams are dropped.
type Receiver struct {
	conn     *net.UDPConn
	parser   *protocol.Parser
	inbound  chan<- protocol.Packet
	counters *Counters
	guard    *floodGuard
	logger   zerolog.Logger
}

// NewReceiver creates a receiver. counters may be nil.
func NewReceiver(conn *net.UDPConn, parser *protocol.Parser, inbound chan<- protocol.Packet, counters *Counters) *Receiver {
	if counters == nil {
		counters = &Counters{}
	}
	return &Receiver{
		conn:     conn,
		parser:   parser,
		inbound:  inbound,
		counters: counters,
		logger:   util.ComponentLogger("receiver"),
	}
}

// LimitRate drops datagrams from a source IP beyond perSec per second
// before they are decoded. Zero or less disables the limit.
func (r *Receiver) LimitRate(perSec int) *Receiver {
	if perSec > 0 {
		r.guard = newFloodGuard(perSec)
	} else {
		r.guard = nil
	}
	return r
}

// Run reads until ctx is cancelled or the socket is closed. Read errors are
// logged and the loop keeps going.
func (r *Receiver) Run(ctx context.Context) error {
	r.logger.Info().Stringer("addr", r.conn.LocalAddr()).Msg("receiver started")

	// One spare byte tells an oversized datagram from one that fits exactly.
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info().Msg("receiver stopping")
				return nil
			}
			r.logger.Error().Err(err).Msg("udp read error")
			continue
		}

		if r.guard != nil && !r.guard.allow(remote.IP.String(), time.Now()) {
			if r.counters.throttled.Add(1)%1000 == 1 {
				r.logger.Warn().Stringer("remote", remote).Msg("source over datagram budget, dropping")
			}
			continue
		}

		if n > protocol.MaxDatagramSize {
			r.counters.discarded.Add(1)
			r.logger.Trace().Stringer("remote", remote).Msg("discarding oversized datagram")
			continue
		}

		pkt, err := r.parser.Parse(buf[:n], remote)
		if err != nil {
			r.counters.discarded.Add(1)
			continue
		}
		r.counters.received.Add(1)

		select {
		case r.inbound <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

// Sender writes every packet taken from the outbound queue to its address.
type Sender struct {
	conn     *net.UDPConn
	outbound <-chan protocol.Packet
	counters *Counters
	logger   zerolog.Logger
}

// NewSender creates a sender. counters may be nil.
func NewSender(conn *net.UDPConn, outbound <-chan protocol.Packet, counters *Counters) *Sender {
	if counters == nil {
		counters = &Counters{}
	}
	return &Sender{
		conn:     conn,
		outbound: outbound,
		counters: counters,
		logger:   util.ComponentLogger("sender"),
	}
}

// Run drains the outbound queue until ctx is cancelled. A failed write is
// logged and the packet dropped.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sender stopping")
			return nil
		case pkt := <-s.outbound:
			s.send(pkt)
		}
	}
}

func (s *Sender) send(pkt protocol.Packet) {
	if pkt.Addr == nil {
		s.logger.Warn().Stringer("kind", pkt.Kind()).Msg("dropping packet without address")
		s.counters.sendFails.Add(1)
		return
	}
	if _, err := s.conn.WriteToUDP(protocol.Encode(pkt.Body), pkt.Addr); err != nil {
		s.logger.Warn().
			Err(err).
			Stringer("remote", pkt.Addr).
			Stringer("kind", pkt.Kind()).
			Msg("failed to send packet")
		s.counters.sendFails.Add(1)
		return
	}
	s.counters.sent.Add(1)
	s.logger.Trace().Stringer("remote", pkt.Addr).Stringer("kind", pkt.Kind()).Msg("sent")
}
