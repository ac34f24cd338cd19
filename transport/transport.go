// Package transport defines the abstract boundary SPEC_FULL §4.2 requires
// between the transaction layer and the network: send a message to a
// destination, report whether a named transport is reliable, and deliver
// inbound messages upward. A reference UDP implementation is provided in
// udp.go; concrete TCP/TLS transports remain out of scope.
package transport

import (
	"context"
	"fmt"

	"github.com/sipstack/transact/sip"
)

// Destination is where an outbound message is sent, or where an inbound
// one came from (SPEC_FULL §3).
type Destination struct {
	Host      string
	Port      uint16
	Transport string // "UDP", "TCP", "TLS"
}

func (d Destination) String() string {
	return fmt.Sprintf("%s:%d/%s", d.Host, d.Port, d.Transport)
}

// DefaultPort returns the conventional SIP port for the named transport
// when none is specified on the wire (SPEC_FULL §6).
func DefaultPort(transport string) uint16 {
	switch transport {
	case "TLS":
		return 5061
	default:
		return 5060
	}
}

// RequestHandler is invoked by a Transport for every inbound request.
type RequestHandler func(req *sip.Request, src Destination)

// ResponseHandler is invoked by a Transport for every inbound response.
type ResponseHandler func(resp *sip.Response, src Destination)

// Transport is the abstract contract the transaction layer depends on
// (SPEC_FULL §4.2). Implementations must be safe for concurrent use.
type Transport interface {
	// Send transmits msg to dest. Implementations should treat ctx's
	// deadline as a send timeout, not a delivery guarantee.
	Send(ctx context.Context, dest Destination, msg sip.Message) error
	// Reliable reports whether the named transport guarantees in-order,
	// lossless delivery (TCP and TLS are reliable; UDP is not).
	Reliable(transport string) bool
	// OnRequest registers a handler for inbound requests. It returns a
	// function that removes the registration.
	OnRequest(h RequestHandler) (remove func())
	// OnResponse registers a handler for inbound responses.
	OnResponse(h ResponseHandler) (remove func())
}

// ReliableTransports is the set of transport names this module treats as
// reliable by convention; Reliable implementations typically delegate to
// this table for TCP/TLS and special-case UDP as unreliable.
var ReliableTransports = map[string]bool{
	"TCP": true,
	"TLS": true,
}
