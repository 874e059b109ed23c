package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the typed record inside every frame. PayloadType selects the
// message schema for Payload; ClientMsgID correlates responses to requests
// and is empty on unsolicited events.
type Envelope struct {
	PayloadType uint32
	Payload     []byte
	ClientMsgID string
}

// Envelope field numbers in the broker's published schema.
const (
	fieldPayloadType = 1
	fieldPayload     = 2
	fieldClientMsgID = 3
)

// MarshalEnvelope serializes an envelope to its protobuf wire form.
func MarshalEnvelope(e Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.PayloadType))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	if e.ClientMsgID != "" {
		b = protowire.AppendTag(b, fieldClientMsgID, protowire.BytesType)
		b = protowire.AppendString(b, e.ClientMsgID)
	}
	return b
}

// UnmarshalEnvelope parses an envelope from its protobuf wire form.
// Unknown fields are skipped so schema additions do not break decoding.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("envelope: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldPayloadType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("envelope: bad payloadType: %w", protowire.ParseError(n))
			}
			e.PayloadType = uint32(v)
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return e, fmt.Errorf("envelope: bad payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldClientMsgID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return e, fmt.Errorf("envelope: bad clientMsgId: %w", protowire.ParseError(n))
			}
			e.ClientMsgID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("envelope: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}
