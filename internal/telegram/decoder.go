package telegram

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The Telegram macOS client serializes postbox rows with its own
// PostboxEncoder format: a flat sequence of records, each a length-prefixed
// key string followed by a one-byte value type and a type-specific payload.
// Scalars are little-endian; the t7 message keys are big-endian so that
// byte-wise key ordering matches (peer, namespace, timestamp, id) ordering.

type valueType byte

const (
	typeInt32 valueType = iota
	typeInt64
	typeBool
	typeDouble
	typeString
	typeObject
	typeInt32Array
	typeInt64Array
	typeObjectArray
	typeObjectDictionary
	typeBytes
	typeNil
	typeStringArray
	typeBytesArray
)

type decoder struct {
	data []byte
	pos  int
}

func newDecoder(data []byte) *decoder {
	return &decoder{data: data}
}

func (d *decoder) remaining() int { return len(d.data) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) readInt8() (int8, error) {
	b, err := d.readUint8()
	return int8(b), err
}

func (d *decoder) readInt32() (int32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) readInt64() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// readLenBytes reads an int32 length prefix followed by that many bytes.
func (d *decoder) readLenBytes() ([]byte, error) {
	n, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	return d.take(int(n))
}

func (d *decoder) readString() (string, error) {
	b, err := d.readLenBytes()
	return string(b), err
}

// readShortString reads a uint8-length-prefixed key string.
func (d *decoder) readShortString() (string, error) {
	n, err := d.readUint8()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	return string(b), err
}

// readValue consumes one typed value, returning its decoded form. Object
// payloads come back as raw bytes for the caller to decode further.
func (d *decoder) readValue() (valueType, any, error) {
	t, err := d.readUint8()
	if err != nil {
		return 0, nil, err
	}
	vt := valueType(t)
	switch vt {
	case typeInt32:
		v, err := d.readInt32()
		return vt, v, err
	case typeInt64:
		v, err := d.readInt64()
		return vt, v, err
	case typeBool:
		b, err := d.readUint8()
		return vt, b != 0, err
	case typeDouble:
		b, err := d.take(8)
		if err != nil {
			return vt, nil, err
		}
		return vt, binary.LittleEndian.Uint64(b), nil
	case typeString:
		v, err := d.readString()
		return vt, v, err
	case typeBytes:
		v, err := d.readLenBytes()
		return vt, v, err
	case typeObject:
		if _, err := d.readInt32(); err != nil { // type hash
			return vt, nil, err
		}
		v, err := d.readLenBytes()
		return vt, v, err
	case typeNil:
		return vt, nil, nil
	case typeInt32Array:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		out := make([]int32, 0, n)
		for i := int32(0); i < n; i++ {
			v, err := d.readInt32()
			if err != nil {
				return vt, nil, err
			}
			out = append(out, v)
		}
		return vt, out, nil
	case typeInt64Array:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		out := make([]int64, 0, n)
		for i := int32(0); i < n; i++ {
			v, err := d.readInt64()
			if err != nil {
				return vt, nil, err
			}
			out = append(out, v)
		}
		return vt, out, nil
	case typeObjectArray:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		out := make([][]byte, 0, n)
		for i := int32(0); i < n; i++ {
			if _, err := d.readInt32(); err != nil { // type hash
				return vt, nil, err
			}
			v, err := d.readLenBytes()
			if err != nil {
				return vt, nil, err
			}
			out = append(out, v)
		}
		return vt, out, nil
	case typeStringArray:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		out := make([]string, 0, n)
		for i := int32(0); i < n; i++ {
			v, err := d.readString()
			if err != nil {
				return vt, nil, err
			}
			out = append(out, v)
		}
		return vt, out, nil
	case typeBytesArray:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		out := make([][]byte, 0, n)
		for i := int32(0); i < n; i++ {
			v, err := d.readLenBytes()
			if err != nil {
				return vt, nil, err
			}
			out = append(out, v)
		}
		return vt, out, nil
	case typeObjectDictionary:
		n, err := d.readInt32()
		if err != nil {
			return vt, nil, err
		}
		for i := int32(0); i < n; i++ {
			for j := 0; j < 2; j++ { // key object, value object
				if _, err := d.readInt32(); err != nil {
					return vt, nil, err
				}
				if _, err := d.readLenBytes(); err != nil {
					return vt, nil, err
				}
			}
		}
		return vt, nil, nil
	}
	return vt, nil, fmt.Errorf("unknown postbox value type %d", t)
}

// decodeFields decodes every key/value record in data, stopping quietly at
// the first malformed record (trailing bytes are common in postbox blobs).
func decodeFields(data []byte) map[string]any {
	d := newDecoder(data)
	fields := make(map[string]any)
	for d.remaining() > 0 {
		key, err := d.readShortString()
		if err != nil {
			break
		}
		_, value, err := d.readValue()
		if err != nil {
			break
		}
		fields[key] = value
	}
	return fields
}

// messageKey is the decoded form of a t7 primary key.
type messageKey struct {
	peerID    int64
	namespace int32
	timestamp int32
	messageID int32
}

func parseMessageKey(key []byte) (messageKey, error) {
	if len(key) < 20 {
		return messageKey{}, fmt.Errorf("message key too short: %d bytes", len(key))
	}
	return messageKey{
		peerID:    int64(binary.BigEndian.Uint64(key[0:8])),
		namespace: int32(binary.BigEndian.Uint32(key[8:12])),
		timestamp: int32(binary.BigEndian.Uint32(key[12:16])),
		messageID: int32(binary.BigEndian.Uint32(key[16:20])),
	}, nil
}

// encodeMessageKey builds a t7 key; peerKeyPrefix is its first 8 bytes,
// which index every message of one peer.
func encodeMessageKey(k messageKey) []byte {
	out := make([]byte, 20)
	binary.BigEndian.PutUint64(out[0:8], uint64(k.peerID))
	binary.BigEndian.PutUint32(out[8:12], uint32(k.namespace))
	binary.BigEndian.PutUint32(out[12:16], uint32(k.timestamp))
	binary.BigEndian.PutUint32(out[16:20], uint32(k.messageID))
	return out
}

func peerKeyPrefix(peerID int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(peerID))
	return out
}
