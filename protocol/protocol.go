// Package protocol implements the binary frame protocol spoken between RPC
// clients and servers.
//
// A fixed 14-byte header is followed by a variable-length body. The receiver
// reads the header first to learn the body length, then reads exactly that
// many bytes, so frames never run together on the TCP stream.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ udr  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNumber byte = 0x75 // 'u'
	MagicByte2  byte = 0x64 // 'd'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation a peer can force with a single header.
	MaxBodyLen uint32 = 16 << 20
)

type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // keepalive probe, no body
)

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnsupportedCodec   = errors.New("unsupported codec type")
	ErrUnsupportedMsgType = errors.New("unsupported message type")
	ErrBodyTooLarge       = errors.New("body too large")
)

type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32 // matches a response to its request
	BodyLen   uint32
}

// Encode writes a complete frame to w in a single Write call. Callers sharing
// w between goroutines must still serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	// The length always reflects the body actually written.
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r and validates its header.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	h, err := parseHeader(headerBuf)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return h, body, nil
}

func parseHeader(buf []byte) (*Header, error) {
	if buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3 {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, buf[0:3])
	}
	if buf[3] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[3])
	}
	if buf[4] != CodecTypeJSON && buf[4] != CodecTypeBinary {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, buf[4])
	}
	msgType := MsgType(buf[5])
	switch msgType {
	case MsgTypeRequest, MsgTypeResponse, MsgTypeHeartbeat:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMsgType, buf[5])
	}

	bodyLen := binary.BigEndian.Uint32(buf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	return &Header{
		CodecType: buf[4],
		MsgType:   msgType,
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   bodyLen,
	}, nil
}
