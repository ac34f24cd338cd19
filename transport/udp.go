package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"braces.dev/errtrace"

	"github.com/sipstack/transact/internal/types"
	"github.com/sipstack/transact/internal/xlog"
	"github.com/sipstack/transact/sip"
)

// UDPOptions configures a UDPTransport.
type UDPOptions struct {
	// Log is the logger; defaults to xlog.Default().
	Log *slog.Logger
	// MaxDatagramSize bounds a single read; defaults to 65535.
	MaxDatagramSize int
}

func (o *UDPOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return xlog.Default()
	}
	return o.Log
}

func (o *UDPOptions) maxDatagram() int {
	if o == nil || o.MaxDatagramSize <= 0 {
		return 65535
	}
	return o.MaxDatagramSize
}

// UDPTransport is the reference Transport implementation SPEC_FULL §2C /
// §4.2 calls for: a single UDP socket with one read-loop goroutine
// delivering parsed messages to registered handlers.
type UDPTransport struct {
	conn *net.UDPConn
	log  *slog.Logger
	size int

	onReq types.CallbackManager[RequestHandler]
	onRes types.CallbackManager[ResponseHandler]

	done chan struct{}
}

// ListenUDP opens a UDP socket on addr and starts its read loop.
func ListenUDP(addr string, opts *UDPOptions) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	t := &UDPTransport{
		conn: conn,
		log:  opts.log(),
		size: opts.maxDatagram(),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, t.size)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.log.Warn("udp read error", slog.Any("error", err))
			return
		}
		t.handleDatagram(buf[:n], raddr)
	}
}

func (t *UDPTransport) handleDatagram(b []byte, raddr *net.UDPAddr) {
	msg, err := sip.ParsePacket(b)
	if err != nil {
		var perr *sip.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, sip.ErrContentTooSmall) && perr.Partial != nil {
			t.log.Warn("dropping datagram with short body", slog.Any("error", err))
		} else {
			t.log.Warn("dropping unparseable datagram", slog.Any("error", err))
		}
		return
	}
	src := Destination{Host: raddr.IP.String(), Port: uint16(raddr.Port), Transport: "UDP"}
	switch m := msg.(type) {
	case *sip.Request:
		for h := range t.onReq.All() {
			h(m, src)
		}
	case *sip.Response:
		for h := range t.onRes.All() {
			h(m, src)
		}
	}
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, dest Destination, msg sip.Message) error {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", dest.Host, dest.Port))
	if err != nil {
		return errtrace.Wrap(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	_, err = t.conn.WriteToUDP(sip.Render(msg), raddr)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return nil
}

// LocalAddr returns the socket's bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Reliable implements Transport. UDP is never reliable.
func (t *UDPTransport) Reliable(transport string) bool {
	if transport == "UDP" {
		return false
	}
	return ReliableTransports[transport]
}

// OnRequest implements Transport.
func (t *UDPTransport) OnRequest(h RequestHandler) (remove func()) { return t.onReq.Add(h) }

// OnResponse implements Transport.
func (t *UDPTransport) OnResponse(h ResponseHandler) (remove func()) { return t.onRes.Add(h) }

// Close stops the read loop and closes the socket.
func (t *UDPTransport) Close() error {
	close(t.done)
	return t.conn.Close()
}
