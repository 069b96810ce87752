package communication

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The envelope schema is small enough to frame by hand with protowire;
// proto/offs.proto documents it. Field numbers are fixed forever.
//
//	message Envelope  { string from = 1; string type = 2; bytes payload = 3; }
//	message Reply     { string code = 1; bytes body = 2; }

const (
	envelopeFieldFrom    = 1
	envelopeFieldType    = 2
	envelopeFieldPayload = 3

	replyFieldCode = 1
	replyFieldBody = 2
)

func MarshalMessage(msg Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, envelopeFieldFrom, protowire.BytesType)
	b = protowire.AppendString(b, msg.From)
	b = protowire.AppendTag(b, envelopeFieldType, protowire.BytesType)
	b = protowire.AppendString(b, msg.Type)
	b = protowire.AppendTag(b, envelopeFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, msg.Payload)

	return b
}

func UnmarshalMessage(data []byte) (Message, error) {
	var msg Message
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return msg, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		value, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return msg, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case envelopeFieldFrom:
			msg.From = string(value)
		case envelopeFieldType:
			msg.Type = string(value)
		case envelopeFieldPayload:
			msg.Payload = append([]byte(nil), value...)
		}
	}

	return msg, nil
}

func MarshalResponse(resp *Response) []byte {
	var b []byte
	b = protowire.AppendTag(b, replyFieldCode, protowire.BytesType)
	b = protowire.AppendString(b, string(resp.Code))
	b = protowire.AppendTag(b, replyFieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, resp.Body)

	return b
}

func UnmarshalResponse(data []byte) (*Response, error) {
	resp := &Response{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		value, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case replyFieldCode:
			resp.Code = Code(value)
		case replyFieldBody:
			resp.Body = append([]byte(nil), value...)
		}
	}

	return resp, nil
}
