package core

import "encoding/binary"

// MessageType enumerates the wire message kinds exchanged between nodes.
// Values are fixed across the whole coherence domain (see wire layout notes).
type MessageType int32

const (
	MsgFetch          MessageType = 0
	MsgFetchAck       MessageType = 1
	MsgFetchNack      MessageType = 2
	MsgInvalidate     MessageType = 3
	MsgInvalidateAck  MessageType = 4
	MsgInvalidateNack MessageType = 5
	MsgError          MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MsgFetch:
		return "FETCH"
	case MsgFetchAck:
		return "FETCH_ACK"
	case MsgFetchNack:
		return "FETCH_NACK"
	case MsgInvalidate:
		return "INVALIDATE"
	case MsgInvalidateAck:
		return "INVALIDATE_ACK"
	case MsgInvalidateNack:
		return "INVALIDATE_NACK"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsAck reports whether t is a positive acknowledgement.
func (t MessageType) IsAck() bool {
	return t == MsgFetchAck || t == MsgInvalidateAck
}

// IsNack reports whether t is a negative acknowledgement.
func (t MessageType) IsNack() bool {
	return t == MsgFetchNack || t == MsgInvalidateNack
}

// CLSize is the cache line size messages are padded and aligned to.
const CLSize = 64

// WireSize is the packed, unpadded size of a Message on the wire (header 16B
// + payload 20B), before alignment to a ring slot.
const WireSize = 36

// MessageHeader identifies the sender/receiver and the wait station the
// reply (if any) must address.
type MessageHeader struct {
	Type        MessageType
	WaitStation int32
	FromNode    int32
	ToNode      int32
}

// MessagePayload carries the coherence-specific arguments of the message.
type MessagePayload struct {
	Offset          uint64 // shared-window offset identifying the page
	PageOrder       int32  // 0 for a base page, >0 for huge-page orders
	AckedFaultCount int64  // sender's local acked-fault count at send time
}

// Message is the unit exchanged over a ring window. Its wire encoding is
// fixed: four little-endian int32 header fields followed by the payload,
// packed with no implicit padding and then padded by the caller to CLSize.
type Message struct {
	Header  MessageHeader
	Payload MessagePayload
}

// MarshalBinary encodes m into its WireSize-byte packed representation.
func (m Message) MarshalBinary() []byte {
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Header.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Header.WaitStation))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.Header.FromNode))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.Header.ToNode))
	binary.LittleEndian.PutUint64(buf[16:24], m.Payload.Offset)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(m.Payload.PageOrder))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(m.Payload.AckedFaultCount))
	return buf
}

// UnmarshalMessage decodes a WireSize-byte buffer produced by MarshalBinary.
func UnmarshalMessage(buf []byte) (Message, bool) {
	if len(buf) < WireSize {
		return Message{}, false
	}
	return Message{
		Header: MessageHeader{
			Type:        MessageType(binary.LittleEndian.Uint32(buf[0:4])),
			WaitStation: int32(binary.LittleEndian.Uint32(buf[4:8])),
			FromNode:    int32(binary.LittleEndian.Uint32(buf[8:12])),
			ToNode:      int32(binary.LittleEndian.Uint32(buf[12:16])),
		},
		Payload: MessagePayload{
			Offset:          binary.LittleEndian.Uint64(buf[16:24]),
			PageOrder:       int32(binary.LittleEndian.Uint32(buf[24:28])),
			AckedFaultCount: int64(binary.LittleEndian.Uint64(buf[28:36])),
		},
	}, true
}
