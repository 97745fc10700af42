package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
)

const (
	// ContentType is the media type of an encoded message body
	ContentType = "application/x-trusted-relay+cbor"

	Version byte = 1

	magic      = "TR"
	headerSize = len(magic) + 1 + 8
)

var (
	cborNull = []byte{0xf6}

	ErrCodec = errors.New("message: codec error")
)

// Frame layout:
//
//	magic (2) | version (1) | xxhash64(body) big endian (8) | body
//
// The body is deterministic CBOR of an envelope whose attribute values
// are tagged with their request.Kind.
type envelope struct {
	_             struct{} `cbor:",toarray"`
	RequestID     string
	RequestType   string
	RequestStatus string
	Attributes    map[string]taggedValue
}

type taggedValue struct {
	_    struct{} `cbor:",toarray"`
	Kind request.Kind
	Data cbor.RawMessage
}

// Codec converts messages to and from their framed binary form. A Codec
// is safe for concurrent use.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCodec() (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encodes the message into a self-describing, checksummed frame
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	env := envelope{
		RequestID:     msg.RequestID,
		RequestType:   msg.RequestType.String(),
		RequestStatus: msg.RequestStatus.String(),
	}
	if msg.Attributes != nil {
		env.Attributes = make(map[string]taggedValue, len(msg.Attributes))
		for name, value := range msg.Attributes {
			if value == nil {
				return nil, fmt.Errorf("%w: attribute %s has no value", ErrCodec, name)
			}
			data, err := c.enc.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("%w: attribute %s: %w", ErrCodec, name, err)
			}
			env.Attributes[name] = taggedValue{Kind: value.Kind(), Data: data}
		}
	}
	body, err := c.enc.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	copy(frame, magic)
	frame[len(magic)] = Version
	binary.BigEndian.PutUint64(frame[len(magic)+1:headerSize], xxhash.Sum64(body))
	return append(frame, body...), nil
}

// Decodes a frame produced by Encode. Returns an error wrapping ErrCodec,
// and never a partially populated message, if the frame is truncated,
// corrupt or was produced by an incompatible version.
func (c *Codec) Decode(payload []byte) (*Message, error) {
	if len(payload) < headerSize {
		return nil, fmt.Errorf("%w: truncated frame (%d bytes)", ErrCodec, len(payload))
	}
	if string(payload[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: unrecognized frame", ErrCodec)
	}
	if version := payload[len(magic)]; version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCodec, version)
	}
	body := payload[headerSize:]
	checksum := binary.BigEndian.Uint64(payload[len(magic)+1 : headerSize])
	if xxhash.Sum64(body) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCodec)
	}

	var env envelope
	if err := c.dec.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	typ, err := request.ParseType(env.RequestType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	msg := &Message{
		RequestID:   env.RequestID,
		RequestType: typ,
		// Status is validated by the receiver; an unknown status is a
		// protocol error rather than a framing error.
		RequestStatus: request.Status(env.RequestStatus),
	}
	if env.Attributes != nil {
		msg.Attributes = make(request.Attributes, len(env.Attributes))
		for name, tv := range env.Attributes {
			value, err := c.decodeValue(tv)
			if err != nil {
				return nil, fmt.Errorf("%w: attribute %s: %w", ErrCodec, name, err)
			}
			msg.Attributes[name] = value
		}
	}
	return msg, nil
}

func (c *Codec) decodeValue(tv taggedValue) (request.Value, error) {
	switch tv.Kind {
	case request.KindString:
		if bytes.Equal(tv.Data, cborNull) {
			return nil, errors.New("null string")
		}
		var s string
		if err := c.dec.Unmarshal(tv.Data, &s); err != nil {
			return nil, err
		}
		return request.String(s), nil
	case request.KindBytes:
		var b []byte
		if err := c.dec.Unmarshal(tv.Data, &b); err != nil {
			return nil, err
		}
		return request.Bytes(b), nil
	case request.KindStringList:
		var l []string
		if err := c.dec.Unmarshal(tv.Data, &l); err != nil {
			return nil, err
		}
		return request.StringList(l), nil
	case request.KindMap:
		var m map[string]string
		if err := c.dec.Unmarshal(tv.Data, &m); err != nil {
			return nil, err
		}
		return request.Map(m), nil
	}
	return nil, fmt.Errorf("%w: %d", request.ErrInvalidKind, tv.Kind)
}
