// Package v1 defines the wire messages of the TRAC data-plane gRPC
// service. They are plain Go structs, encoded with the msgpack codec
// registered by internal/rpc, rather than protobuf-generated types —
// see trac.proto in this directory for the canonical interface
// definition and DESIGN.md for why no protoc codegen runs in this
// build.
package v1

import "github.com/tracdap/trac-core/internal/types"

// TagUpdateWire is the wire form of a single requested attribute
// change, msgpack field names kept short and lower-case to match the
// convention the other wire structs in this file use.
type TagUpdateWire struct {
	Op       types.TagUpdateOp `msgpack:"op"`
	AttrName string            `msgpack:"attrName"`
	Value    types.Value       `msgpack:"value"`
}

// DataWriteRequest is the first (and, for createSmallDataset, only)
// message of createDataset/updateDataset, mirroring spec.md §6:
// "tenant, priorVersion?, schema?, format, tagUpdates[], content
// (bytes, may be empty in the first message)".
type DataWriteRequest struct {
	Tenant       string               `msgpack:"tenant"`
	Bucket       string               `msgpack:"bucket"`
	PriorVersion *types.TagSelector   `msgpack:"priorVersion,omitempty"`
	Schema       *types.SchemaDefinition `msgpack:"schema,omitempty"`
	SchemaID     *types.TagSelector   `msgpack:"schemaId,omitempty"`
	Format       string               `msgpack:"format"`
	TagUpdates   []TagUpdateWire      `msgpack:"tagUpdates"`
	Content      []byte               `msgpack:"content,omitempty"`
}

// DataReadRequest is the single message of readDataset.
type DataReadRequest struct {
	Tenant   string            `msgpack:"tenant"`
	Bucket   string            `msgpack:"bucket"`
	Selector types.TagSelector `msgpack:"selector"`
	Format   string            `msgpack:"format"`
}

// DataReadResponse is one message of readDataset's server stream: the
// first carries Schema only, every subsequent one carries Content only
// (§6: "first response has schema, rest have content").
type DataReadResponse struct {
	Schema  *types.SchemaDefinition `msgpack:"schema,omitempty"`
	Content []byte                  `msgpack:"content,omitempty"`
}

// FileWriteRequest is the file equivalent of DataWriteRequest, carrying
// MimeType and an optional declared Size instead of a schema/format.
type FileWriteRequest struct {
	Tenant       string             `msgpack:"tenant"`
	Bucket       string             `msgpack:"bucket"`
	PriorVersion *types.TagSelector `msgpack:"priorVersion,omitempty"`
	Name         string             `msgpack:"name"`
	MimeType     string             `msgpack:"mimeType"`
	Size         int64              `msgpack:"size,omitempty"`
	TagUpdates   []TagUpdateWire    `msgpack:"tagUpdates"`
	Content      []byte             `msgpack:"content,omitempty"`
}

// FileReadRequest is the file equivalent of DataReadRequest.
type FileReadRequest struct {
	Tenant   string            `msgpack:"tenant"`
	Bucket   string            `msgpack:"bucket"`
	Selector types.TagSelector `msgpack:"selector"`
}

// FileReadResponse is one message of readFile's server stream: the
// first carries FileDefinition metadata only, the rest carry Content.
type FileReadResponse struct {
	Name     string `msgpack:"name,omitempty"`
	MimeType string `msgpack:"mimeType,omitempty"`
	Size     int64  `msgpack:"size,omitempty"`
	Content  []byte `msgpack:"content,omitempty"`
}

// TagHeaderWire is the response of every create/update RPC: enough to
// build a TagSelector addressing the exact version/tag just written.
type TagHeaderWire struct {
	ObjectType     types.ObjectType `msgpack:"objectType"`
	ObjectID       string           `msgpack:"objectId"`
	ObjectVersion  int              `msgpack:"objectVersion"`
	TagVersion     int              `msgpack:"tagVersion"`
	IsLatestObject bool             `msgpack:"isLatestObject"`
	IsLatestTag    bool             `msgpack:"isLatestTag"`
}

// FromTagHeader converts a types.TagHeader to its wire form.
func FromTagHeader(h types.TagHeader) TagHeaderWire {
	return TagHeaderWire{
		ObjectType:     h.ObjectType,
		ObjectID:       h.ObjectID.String(),
		ObjectVersion:  h.ObjectVersion,
		TagVersion:     h.TagVersion,
		IsLatestObject: h.IsLatestObject,
		IsLatestTag:    h.IsLatestTag,
	}
}

// ToTagUpdates converts the wire form of a tag update list to the
// internal type dataplane operations accept.
func ToTagUpdates(wire []TagUpdateWire) []types.TagUpdate {
	out := make([]types.TagUpdate, len(wire))
	for i, w := range wire {
		out[i] = types.TagUpdate{Op: w.Op, AttrName: w.AttrName, Value: w.Value}
	}
	return out
}
