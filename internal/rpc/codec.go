// Package rpc implements the gRPC streaming adapter (C6): the
// client-stream upload/server-stream download plumbing of §4.6, and
// the hand-authored grpc.ServiceDesc that dispatches onto
// internal/dataplane.Service. Grounded on hugr-lab-airport-go's
// Arrow-over-gRPC service wiring (plain Go structs carried over a
// non-protobuf codec, registered with encoding.RegisterCodec exactly
// as grpc-go documents for non-protobuf payloads) and on the teacher's
// internal/source/server config/bind shape for the surrounding server
// setup. See DESIGN.md, "Hand-authored gRPC wire messages", for why no
// protoc codegen runs in this build.
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is the subtype registered with grpc-go's content-type
// negotiation (content-type becomes "application/grpc+msgpack").
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// msgpackCodec implements encoding.Codec (formerly grpc.Codec) by
// delegating directly to github.com/vmihailenco/msgpack/v5, the same
// serializer internal/metadata already uses for definition bodies and
// attribute values.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}
