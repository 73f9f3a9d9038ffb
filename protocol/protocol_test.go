package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte(`{"user_id":1}`)

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("expect frame of %d bytes, got %d", HeaderSize+len(body), buf.Len())
	}

	decoded, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decoded.CodecType, header.CodecType)
	}
	if decoded.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decoded.MsgType, header.MsgType)
	}
	if decoded.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, header.Seq)
	}
	if decoded.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decoded.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestDecodeBackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint32(1); seq <= 3; seq++ {
		if err := Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: seq}, []byte{byte(seq)}); err != nil {
			t.Fatal(err)
		}
	}
	for seq := uint32(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if h.Seq != seq || len(body) != 1 || body[0] != byte(seq) {
			t.Fatalf("frame %d decoded as seq=%d body=%v", seq, h.Seq, body)
		}
	}
}

func TestDecodeHeartbeatWithoutBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	h, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %d, want %d", h.MsgType, MsgTypeHeartbeat)
	}
	if h.BodyLen != 0 || len(body) != 0 {
		t.Errorf("expect empty body, got %d bytes", len(body))
	}
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	valid := func() []byte {
		return []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0}
	}

	cases := []struct {
		name   string
		mutate func(b []byte)
		want   error
	}{
		{"magic", func(b []byte) { b[0] = 0x00 }, ErrInvalidMagic},
		{"version", func(b []byte) { b[3] = 0xFF }, ErrUnsupportedVersion},
		{"codec", func(b []byte) { b[4] = 9 }, ErrUnsupportedCodec},
		{"msgType", func(b []byte) { b[5] = 9 }, ErrUnsupportedMsgType},
		{"bodyLen", func(b []byte) { b[10] = 0xFF }, ErrBodyTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := valid()
			tc.mutate(frame)
			_, _, err := Decode(bytes.NewReader(frame))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expect %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest}, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	if _, _, err := Decode(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expect error for truncated body")
	}
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
