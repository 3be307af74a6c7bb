package moqt

import (
	"net"

	"github.com/okdaichi/moqtransport/quic"
)

// Tracer observes session events. Nil fields are skipped.
type Tracer struct {
	SessionEstablished func(local, remote net.Addr, version Version)
	SessionTerminated  func(reason error)

	ControlMessageSent     func(name string)
	ControlMessageReceived func(name string)

	// QUIC
	DataStreamOpened   func(quic.StreamID)
	DataStreamAccepted func(quic.StreamID)
	DatagramReceived   func(size int)
}

func (t *Tracer) sessionEstablished(local, remote net.Addr, version Version) {
	if t != nil && t.SessionEstablished != nil {
		t.SessionEstablished(local, remote, version)
	}
}

func (t *Tracer) sessionTerminated(reason error) {
	if t != nil && t.SessionTerminated != nil {
		t.SessionTerminated(reason)
	}
}

func (t *Tracer) controlMessageSent(name string) {
	if t != nil && t.ControlMessageSent != nil {
		t.ControlMessageSent(name)
	}
}

func (t *Tracer) controlMessageReceived(name string) {
	if t != nil && t.ControlMessageReceived != nil {
		t.ControlMessageReceived(name)
	}
}

func (t *Tracer) dataStreamOpened(id quic.StreamID) {
	if t != nil && t.DataStreamOpened != nil {
		t.DataStreamOpened(id)
	}
}

func (t *Tracer) dataStreamAccepted(id quic.StreamID) {
	if t != nil && t.DataStreamAccepted != nil {
		t.DataStreamAccepted(id)
	}
}

func (t *Tracer) datagramReceived(size int) {
	if t != nil && t.DatagramReceived != nil {
		t.DatagramReceived(size)
	}
}
