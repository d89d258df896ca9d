package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is advertised as the content-subtype on every call so the
// client and server agree to use jsonCodec instead of grpc-go's default
// proto codec. See DESIGN.md's "RPC wire format" entry for why: the
// teacher's generated protobuf stubs (api/proto) aren't in the retrieval
// pack, so plain Go structs travel over grpc's real transport, streaming
// and deadline machinery through a hand-registered encoding.Codec instead.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// request/response values with encoding/json. It is intentionally dumb:
// every message type in this package is a plain struct, so there is no
// oneof/any handling to special-case the way a real protobuf codec would.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
