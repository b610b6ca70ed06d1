package body

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// awsPreludeLen is total_length(4) + headers_length(4) + prelude_crc(4),
// the fixed prefix of every AWS event-stream message.
const awsPreludeLen = 12

// AWSEventStreamDecoder decodes the length-prefixed binary framing AWS
// Bedrock streaming responses use (spec.md section 4.5 "AWS
// event-stream"). Header fields and the trailing message CRC are
// skipped; only the message payload is surfaced as a Frame — this
// module only needs the payload bytes, not header-based routing, and
// does not re-validate the CRC the transport layer already protects.
type AWSEventStreamDecoder struct{}

func (AWSEventStreamDecoder) Decode(buf *bytes.Buffer) (Frame, bool, error) {
	return decodeAWSMessage(buf)
}

func (AWSEventStreamDecoder) DecodeEOF(buf *bytes.Buffer) (Frame, bool, error) {
	return decodeAWSMessage(buf)
}

func decodeAWSMessage(buf *bytes.Buffer) (Frame, bool, error) {
	b := buf.Bytes()
	if len(b) < awsPreludeLen {
		return Frame{}, false, nil
	}
	totalLen := binary.BigEndian.Uint32(b[0:4])
	headersLen := binary.BigEndian.Uint32(b[4:8])
	if totalLen < uint32(awsPreludeLen+4) {
		return Frame{}, false, fmt.Errorf("aws event-stream: total_length %d too small", totalLen)
	}
	if uint32(len(b)) < totalLen {
		return Frame{}, false, nil
	}

	payloadStart := uint32(awsPreludeLen) + headersLen
	payloadEnd := totalLen - 4 // trailing message CRC
	if payloadEnd < payloadStart || payloadEnd > totalLen {
		return Frame{}, false, fmt.Errorf("aws event-stream: malformed frame (headers_length=%d total_length=%d)", headersLen, totalLen)
	}

	payload := append([]byte(nil), b[payloadStart:payloadEnd]...)
	buf.Next(int(totalLen))
	return Frame{Data: payload}, true, nil
}
