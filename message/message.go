// Package message defines the RPC envelope exchanged between client and server.
//
// RPCMessage is serialized by the codec layer and wrapped in a protocol frame
// for transmission over TCP.
package message

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod and Payload are set; Deadline is the caller's
//     deadline in unix nanoseconds, or zero when the caller has none.
//   - On response: Payload holds the serialized reply. Error and Code are set
//     when the call failed; Code is a google.golang.org/grpc/codes value.
type RPCMessage struct {
	ServiceMethod string // "ServiceName.MethodName", e.g. "UserService.GetUser"
	Error         string
	Code          uint32
	Deadline      int64
	Payload       []byte // JSON-encoded args (request) or reply (response)
}

// DeadlineTime reports the propagated deadline, if any.
func (m *RPCMessage) DeadlineTime() (time.Time, bool) {
	if m.Deadline == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, m.Deadline), true
}

// Failed reports whether the message describes a failed call.
func (m *RPCMessage) Failed() bool {
	return m.Error != "" || m.Code != 0
}

// ErrorReply builds a failed response carrying err's status code and message.
// Context errors map to Canceled/DeadlineExceeded; other plain errors to Unknown.
func ErrorReply(serviceMethod string, err error) *RPCMessage {
	st, ok := status.FromError(err)
	if !ok && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		st = status.FromContextError(err)
	}
	code := st.Code()
	if code == codes.OK {
		code = codes.Unknown
	}
	return &RPCMessage{
		ServiceMethod: serviceMethod,
		Code:          uint32(code),
		Error:         st.Message(),
	}
}

// Err rebuilds the status error carried by a failed response, or nil.
func (m *RPCMessage) Err() error {
	if !m.Failed() {
		return nil
	}
	code := codes.Code(m.Code)
	if code == codes.OK {
		code = codes.Unknown
	}
	return status.Error(code, m.Error)
}
