package bus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

// Codec encodes enriched messages for the wire.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(msg domain.EnrichedMessage) ([]byte, error)
	Unmarshal(b []byte, msg *domain.EnrichedMessage) error
}

var (
	JSON    Codec = &jsonCodec{}
	MsgPack Codec = &msgpackCodec{}
)

// CodecByName returns the codec registered under name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case MsgPack.Name():
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (*jsonCodec) Name() string        { return "json" }
func (*jsonCodec) ContentType() string { return "application/json" }

func (*jsonCodec) Marshal(msg domain.EnrichedMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (*jsonCodec) Unmarshal(b []byte, msg *domain.EnrichedMessage) error {
	return json.Unmarshal(b, msg)
}

// msgpackCodec encodes the same document tree as the JSON codec, so member
// names and any fence properties the relay does not model survive both codecs.
type msgpackCodec struct{}

func (*msgpackCodec) Name() string        { return "msgpack" }
func (*msgpackCodec) ContentType() string { return "application/msgpack" }

func (*msgpackCodec) Marshal(msg domain.EnrichedMessage) ([]byte, error) {
	doc, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(numbersToNative(tree)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (*msgpackCodec) Unmarshal(b []byte, msg *domain.EnrichedMessage) error {
	var tree any
	if err := msgpack.Unmarshal(b, &tree); err != nil {
		return err
	}
	doc, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(doc, msg)
}

// numbersToNative replaces json.Number leaves with int64 or float64 so that
// they are packed as numbers rather than strings.
func numbersToNative(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = numbersToNative(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbersToNative(e)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
