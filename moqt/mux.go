package moqt

import (
	"context"
	"sync"

	"github.com/okdaichi/moqtransport/moqt/internal/message"
	"github.com/okdaichi/moqtransport/quic"
)

// channelKey identifies an outbound group channel.
type channelKey struct {
	requestID uint64
	group     uint64
	subgroup  uint64
}

// dataChannel is an outbound subgroup stream of one subscription.
// wmu serializes writes and may be held across a blocked Write; mu only
// guards closed, so reset reaches the stream while a write is pending.
type dataChannel struct {
	key    channelKey
	stream quic.SendStream
	header message.SubgroupHeader

	wmu sync.Mutex
	buf []byte

	mu     sync.Mutex
	closed bool
}

func (c *dataChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed reports whether this call closed the channel.
func (c *dataChannel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *dataChannel) writeObject(o message.SubgroupObject) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.isClosed() {
		return ErrGroupClosed
	}
	b, err := message.AppendSubgroupObject(c.buf[:0], c.header, o)
	if err != nil {
		return err
	}
	c.buf = b
	if _, err := c.stream.Write(b); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

// finish sends FIN after any pending write.
func (c *dataChannel) finish() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if !c.markClosed() {
		return nil
	}
	return c.stream.Close()
}

// reset does not wait for a pending write; CancelWrite unblocks it.
func (c *dataChannel) reset(code GroupErrorCode) {
	if !c.markClosed() {
		return
	}
	c.stream.CancelWrite(quic.StreamErrorCode(code))
}

type outboundSubscription struct {
	channels map[channelKey]*dataChannel
	opened   uint64
}

type inboundChannel struct {
	stream    quic.ReceiveStream
	requestID uint64
}

func newStreamMux(conn quic.Connection, tracer *Tracer) *streamMux {
	return &streamMux{
		conn:     conn,
		tracer:   tracer,
		outbound: make(map[uint64]*outboundSubscription),
		inbound:  make(map[quic.StreamID]*inboundChannel),
	}
}

// streamMux owns the mapping between subscriptions and data channels.
type streamMux struct {
	conn   quic.Connection
	tracer *Tracer

	mu       sync.Mutex
	outbound map[uint64]*outboundSubscription
	inbound  map[quic.StreamID]*inboundChannel
	closed   bool
}

// register allows channels to be opened for requestID.
func (m *streamMux) register(requestID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.outbound[requestID]; !ok {
		m.outbound[requestID] = &outboundSubscription{channels: make(map[channelKey]*dataChannel)}
	}
}

// open returns the channel for key, opening a stream on first use.
func (m *streamMux) open(ctx context.Context, key channelKey, header message.SubgroupHeader) (*dataChannel, error) {
	m.mu.Lock()
	sub, ok := m.outbound[key.requestID]
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosedSession
	}
	if !ok {
		m.mu.Unlock()
		return nil, ErrGroupClosed
	}
	if ch, ok := sub.channels[key]; ok {
		m.mu.Unlock()
		return ch, nil
	}
	m.mu.Unlock()

	stream, err := m.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	b, err := message.AppendSubgroupHeader(nil, header)
	if err != nil {
		stream.CancelWrite(quic.StreamErrorCode(InternalGroupErrorCode))
		return nil, err
	}
	if _, err := stream.Write(b); err != nil {
		stream.CancelWrite(quic.StreamErrorCode(InternalGroupErrorCode))
		return nil, err
	}
	m.tracer.dataStreamOpened(stream.StreamID())

	ch := &dataChannel{key: key, stream: stream, header: header}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok = m.outbound[key.requestID]
	if !ok || m.closed {
		stream.CancelWrite(quic.StreamErrorCode(CancelledGroupErrorCode))
		return nil, ErrGroupClosed
	}
	sub.channels[key] = ch
	sub.opened++
	return ch, nil
}

// finish sends FIN on the channel for key.
func (m *streamMux) finish(key channelKey) error {
	m.mu.Lock()
	var ch *dataChannel
	if sub, ok := m.outbound[key.requestID]; ok {
		ch = sub.channels[key]
		delete(sub.channels, key)
	}
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.finish()
}

// cancel resets the channel for key.
func (m *streamMux) cancel(key channelKey, code GroupErrorCode) {
	m.mu.Lock()
	var ch *dataChannel
	if sub, ok := m.outbound[key.requestID]; ok {
		ch = sub.channels[key]
		delete(sub.channels, key)
	}
	m.mu.Unlock()

	if ch != nil {
		ch.reset(code)
	}
}

// cancelOlder resets channels of requestID carrying groups below group.
func (m *streamMux) cancelOlder(requestID, group uint64, code GroupErrorCode) {
	m.mu.Lock()
	var old []*dataChannel
	if sub, ok := m.outbound[requestID]; ok {
		for key, ch := range sub.channels {
			if key.group < group {
				old = append(old, ch)
				delete(sub.channels, key)
			}
		}
	}
	m.mu.Unlock()

	for _, ch := range old {
		ch.reset(code)
	}
}

// unregister ends every channel of requestID, with FIN when code is nil,
// and returns the number of streams opened for it.
func (m *streamMux) unregister(requestID uint64, code *GroupErrorCode) uint64 {
	m.mu.Lock()
	sub, ok := m.outbound[requestID]
	delete(m.outbound, requestID)
	m.mu.Unlock()

	if !ok {
		return 0
	}
	for _, ch := range sub.channels {
		if code == nil {
			ch.finish()
		} else {
			ch.reset(*code)
		}
	}
	return sub.opened
}

func (m *streamMux) sendDatagram(dg message.Datagram) error {
	b, err := message.AppendDatagram(nil, dg)
	if err != nil {
		return err
	}
	return m.conn.SendDatagram(b)
}

// addInbound records an accepted data stream of requestID.
func (m *streamMux) addInbound(stream quic.ReceiveStream, requestID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.inbound[stream.StreamID()] = &inboundChannel{stream: stream, requestID: requestID}
	return true
}

func (m *streamMux) removeInbound(id quic.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inbound, id)
}

// cancelInbound asks the peer to stop sending on an accepted data stream.
func (m *streamMux) cancelInbound(id quic.StreamID, code GroupErrorCode) {
	m.mu.Lock()
	in, ok := m.inbound[id]
	delete(m.inbound, id)
	m.mu.Unlock()

	if ok {
		in.stream.CancelRead(quic.StreamErrorCode(code))
	}
}

// cancelInboundFor cancels every accepted data stream of requestID.
func (m *streamMux) cancelInboundFor(requestID uint64, code GroupErrorCode) {
	m.mu.Lock()
	var streams []quic.ReceiveStream
	for id, in := range m.inbound {
		if in.requestID == requestID {
			streams = append(streams, in.stream)
			delete(m.inbound, id)
		}
	}
	m.mu.Unlock()

	for _, stream := range streams {
		stream.CancelRead(quic.StreamErrorCode(code))
	}
}

// close resets every channel in both directions.
func (m *streamMux) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	outbound := m.outbound
	inbound := m.inbound
	m.outbound = make(map[uint64]*outboundSubscription)
	m.inbound = make(map[quic.StreamID]*inboundChannel)
	m.mu.Unlock()

	for _, sub := range outbound {
		for _, ch := range sub.channels {
			ch.reset(SessionClosedGroupErrorCode)
		}
	}
	for _, in := range inbound {
		in.stream.CancelRead(quic.StreamErrorCode(SessionClosedGroupErrorCode))
	}
}
