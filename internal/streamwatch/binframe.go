package streamwatch

import (
	"encoding/binary"
	"fmt"
)

// bufferFrameMagic tags a binary WebSocket frame as a buffer-protocol
// message, distinguishing it from the JSON control messages
// (subscribe/unsubscribe/ping/pong/connected/error) shared on the same
// socket.
const bufferFrameMagic = 0xBF

// EncodeBufferFrame builds one binary frame: magic byte, the
// session id's length as a little-endian uint32, the session id
// itself, then the opaque payload (a terminal buffer snapshot or
// delta).
func EncodeBufferFrame(sessionID string, payload []byte) []byte {
	idBytes := []byte(sessionID)
	out := make([]byte, 0, 1+4+len(idBytes)+len(payload))
	out = append(out, bufferFrameMagic)

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(idBytes)))
	out = append(out, lenBuf...)
	out = append(out, idBytes...)
	out = append(out, payload...)
	return out
}

// DecodeBufferFrame reverses EncodeBufferFrame, returning an error if
// frame is too short or does not start with the expected magic byte.
func DecodeBufferFrame(frame []byte) (sessionID string, payload []byte, err error) {
	if len(frame) < 5 || frame[0] != bufferFrameMagic {
		return "", nil, fmt.Errorf("streamwatch: not a buffer frame")
	}
	idLen := binary.LittleEndian.Uint32(frame[1:5])
	if uint32(len(frame)-5) < idLen {
		return "", nil, fmt.Errorf("streamwatch: truncated buffer frame")
	}
	sessionID = string(frame[5 : 5+idLen])
	payload = frame[5+idLen:]
	return sessionID, payload, nil
}
