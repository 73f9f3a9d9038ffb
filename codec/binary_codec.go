package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"userdir/message"
)

var (
	ErrNotMessage  = errors.New("BinaryCodec: v must be *RPCMessage")
	ErrShortBuffer = errors.New("BinaryCodec: short buffer")
)

// BinaryCodec lays out an RPCMessage as length-prefixed fields, big-endian:
//
//	methodLen(2) method | code(4) | deadline(8) | payloadLen(4) payload | errLen(2) err
type BinaryCodec struct{}

const binaryFixedLen = 2 + 4 + 8 + 4 + 2

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, ErrNotMessage
	}
	if len(msg.ServiceMethod) > math.MaxUint16 || len(msg.Error) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: string field exceeds %d bytes", math.MaxUint16)
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload exceeds %d bytes", uint32(math.MaxUint32))
	}

	buf := make([]byte, 0, binaryFixedLen+len(msg.ServiceMethod)+len(msg.Payload)+len(msg.Error))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.ServiceMethod)))
	buf = append(buf, msg.ServiceMethod...)
	buf = binary.BigEndian.AppendUint32(buf, msg.Code)
	buf = binary.BigEndian.AppendUint64(buf, uint64(msg.Deadline))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Error)))
	buf = append(buf, msg.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return ErrNotMessage
	}

	r := reader{data: data}
	methodLen := r.uint16()
	msg.ServiceMethod = string(r.bytes(int(methodLen)))
	msg.Code = r.uint32()
	msg.Deadline = int64(r.uint64())
	payloadLen := r.uint32()
	payload := r.bytes(int(payloadLen))
	errLen := r.uint16()
	msg.Error = string(r.bytes(int(errLen)))
	if r.short {
		return ErrShortBuffer
	}

	msg.Payload = make([]byte, len(payload))
	copy(msg.Payload, payload)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a buffer and records, instead of panicking, when it runs out.
type reader struct {
	data  []byte
	off   int
	short bool
}

func (r *reader) bytes(n int) []byte {
	if r.short || n < 0 || len(r.data)-r.off < n {
		r.short = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
