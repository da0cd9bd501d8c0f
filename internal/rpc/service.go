package rpc

import (
	"context"

	"google.golang.org/grpc"

	v1 "github.com/tracdap/trac-core/api/trac/v1"
	"github.com/tracdap/trac-core/internal/codec/streamcodec"
	"github.com/tracdap/trac-core/internal/dataplane"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// MaxAggregateBytes bounds a single-response small-read/aggregated
// download per §4.6 ("byte size for a single aggregated buffer is
// bounded; overflow raises DATA_SIZE_EXCEEDED"). 64 MiB comfortably
// covers the createSmallDataset/readSmallDataset convenience methods
// this spec expects to be used for modestly sized payloads only.
const MaxAggregateBytes = 64 << 20

// Server is the grpc.ServiceDesc's receiver: the single collaborator it
// needs is the data-plane Service built in internal/dataplane.
type Server struct {
	Data *dataplane.Service
}

// streamRecv/streamSend adapt grpc.ServerStream's untyped RecvMsg/
// SendMsg to the generic Receiver[T]/Sender[T] shapes UploadSource and
// DownloadSink expect — the same narrowing protoc-gen-go-grpc performs
// for a real generated service.
type streamRecv[T any] struct{ s grpc.ServerStream }

func (r streamRecv[T]) Recv() (T, error) {
	var m T
	err := r.s.RecvMsg(&m)
	return m, err
}

type streamSend[T any] struct{ s grpc.ServerStream }

func (w streamSend[T]) Send(m T) error {
	return w.s.SendMsg(m)
}

func dataWriteContent(m v1.DataWriteRequest) []byte { return m.Content }
func fileWriteContent(m v1.FileWriteRequest) []byte { return m.Content }

// toDataWriteRequest converts a wire DataWriteRequest (minus its
// Content, which the caller streams separately) into the dataplane
// request shape.
func toDataWriteRequest(m v1.DataWriteRequest) (dataplane.DataWriteRequest, error) {
	format, err := streamcodec.ParseFormat(m.Format)
	if err != nil {
		return dataplane.DataWriteRequest{}, errors.Wrap(errors.EInputValidation, err, "parsing format")
	}
	return dataplane.DataWriteRequest{
		Tenant:       m.Tenant,
		Bucket:       m.Bucket,
		PriorVersion: m.PriorVersion,
		Schema:       m.Schema,
		SchemaID:     m.SchemaID,
		Format:       format,
		TagUpdates:   v1.ToTagUpdates(m.TagUpdates),
	}, nil
}

func toFileWriteRequest(m v1.FileWriteRequest) dataplane.FileWriteRequest {
	return dataplane.FileWriteRequest{
		Tenant:       m.Tenant,
		Bucket:       m.Bucket,
		PriorVersion: m.PriorVersion,
		Name:         m.Name,
		MimeType:     m.MimeType,
		DeclaredSize: m.Size,
		TagUpdates:   v1.ToTagUpdates(m.TagUpdates),
	}
}

// --- dataset handlers ---

func (s *Server) handleDatasetUpload(stream grpc.ServerStream, update bool) error {
	ctx := stream.Context()
	src := NewUploadSource[v1.DataWriteRequest](streamRecv[v1.DataWriteRequest]{stream}, dataWriteContent, newRequestAllocator())

	first, err := src.FirstMessage()
	if err != nil {
		return err
	}
	req, err := toDataWriteRequest(first)
	if err != nil {
		return err
	}

	var header types.TagHeader
	if update {
		header, err = s.Data.UpdateDataset(ctx, req, src.DataStream(ctx))
	} else {
		header, err = s.Data.CreateDataset(ctx, req, src.DataStream(ctx))
	}
	if err != nil {
		return err
	}
	return stream.SendMsg(v1.FromTagHeader(header))
}

func createDatasetHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleDatasetUpload(stream, false)
}

func updateDatasetHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleDatasetUpload(stream, true)
}

func createSmallDatasetHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.DataWriteRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	req, err := toDataWriteRequest(wire)
	if err != nil {
		return nil, err
	}
	header, err := srv.(*Server).Data.CreateSmallDataset(ctx, req, wire.Content)
	if err != nil {
		return nil, err
	}
	return v1.FromTagHeader(header), nil
}

func updateSmallDatasetHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.DataWriteRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	req, err := toDataWriteRequest(wire)
	if err != nil {
		return nil, err
	}
	header, err := srv.(*Server).Data.UpdateSmallDataset(ctx, req, wire.Content)
	if err != nil {
		return nil, err
	}
	return v1.FromTagHeader(header), nil
}

func (s *Server) handleDatasetRead(stream grpc.ServerStream) error {
	var wire v1.DataReadRequest
	if err := stream.RecvMsg(&wire); err != nil {
		return err
	}
	format, err := streamcodec.ParseFormat(wire.Format)
	if err != nil {
		return errors.Wrap(errors.EInputValidation, err, "parsing format")
	}

	schema, content, err := s.Data.ReadDataset(stream.Context(), dataplane.DataReadRequest{
		Tenant:   wire.Tenant,
		Bucket:   wire.Bucket,
		Selector: wire.Selector,
		Format:   format,
	})
	if err != nil {
		return err
	}

	sink := NewDownloadSink[v1.DataReadResponse](
		streamSend[v1.DataReadResponse]{stream}, Streaming, 0,
		func() v1.DataReadResponse { return v1.DataReadResponse{Schema: schema} },
		func(b []byte) v1.DataReadResponse { return v1.DataReadResponse{Content: b} },
	)
	return sink.Drive(content)
}

func readDatasetHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleDatasetRead(stream)
}

func readSmallDatasetHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.DataReadRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	format, err := streamcodec.ParseFormat(wire.Format)
	if err != nil {
		return nil, errors.Wrap(errors.EInputValidation, err, "parsing format")
	}
	schema, content, err := srv.(*Server).Data.ReadSmallDataset(ctx, dataplane.DataReadRequest{
		Tenant:   wire.Tenant,
		Bucket:   wire.Bucket,
		Selector: wire.Selector,
		Format:   format,
	}, MaxAggregateBytes)
	if err != nil {
		return nil, err
	}
	return v1.DataReadResponse{Schema: schema, Content: content}, nil
}

// --- file handlers ---

func (s *Server) handleFileUpload(stream grpc.ServerStream, update bool) error {
	ctx := stream.Context()
	src := NewUploadSource[v1.FileWriteRequest](streamRecv[v1.FileWriteRequest]{stream}, fileWriteContent, newRequestAllocator())

	first, err := src.FirstMessage()
	if err != nil {
		return err
	}
	req := toFileWriteRequest(first)

	var header types.TagHeader
	if update {
		header, err = s.Data.UpdateFile(ctx, req, src.DataStream(ctx))
	} else {
		header, err = s.Data.CreateFile(ctx, req, src.DataStream(ctx))
	}
	if err != nil {
		return err
	}
	return stream.SendMsg(v1.FromTagHeader(header))
}

func createFileHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleFileUpload(stream, false)
}

func updateFileHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleFileUpload(stream, true)
}

func createSmallFileHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.FileWriteRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	header, err := srv.(*Server).Data.CreateSmallFile(ctx, toFileWriteRequest(wire), wire.Content)
	if err != nil {
		return nil, err
	}
	return v1.FromTagHeader(header), nil
}

func updateSmallFileHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.FileWriteRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	header, err := srv.(*Server).Data.UpdateSmallFile(ctx, toFileWriteRequest(wire), wire.Content)
	if err != nil {
		return nil, err
	}
	return v1.FromTagHeader(header), nil
}

func (s *Server) handleFileRead(stream grpc.ServerStream) error {
	var wire v1.FileReadRequest
	if err := stream.RecvMsg(&wire); err != nil {
		return err
	}
	def, content, err := s.Data.ReadFile(stream.Context(), dataplane.FileReadRequest{
		Tenant:   wire.Tenant,
		Bucket:   wire.Bucket,
		Selector: wire.Selector,
	})
	if err != nil {
		return err
	}

	sink := NewDownloadSink[v1.FileReadResponse](
		streamSend[v1.FileReadResponse]{stream}, Streaming, 0,
		func() v1.FileReadResponse { return v1.FileReadResponse{Name: def.Name, MimeType: def.MimeType, Size: def.Size} },
		func(b []byte) v1.FileReadResponse { return v1.FileReadResponse{Content: b} },
	)
	return sink.Drive(content)
}

func readFileHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).handleFileRead(stream)
}

func readSmallFileHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var wire v1.FileReadRequest
	if err := dec(&wire); err != nil {
		return nil, err
	}
	def, content, err := srv.(*Server).Data.ReadSmallFile(ctx, dataplane.FileReadRequest{
		Tenant:   wire.Tenant,
		Bucket:   wire.Bucket,
		Selector: wire.Selector,
	}, MaxAggregateBytes)
	if err != nil {
		return nil, err
	}
	return v1.FileReadResponse{Name: def.Name, MimeType: def.MimeType, Size: def.Size, Content: content}, nil
}

// TracDataServiceServer is the interface grpc-go's RegisterService
// checks an implementation against. A real protoc-gen-go-grpc pass
// would emit one typed method per RPC here; since this build dispatches
// every method through the ServiceDesc's handler functions directly
// (see the handlers above) rather than through generated per-method
// interface methods, the interface is intentionally left with no method
// set of its own — *Server trivially satisfies it, and the runtime
// shape enforcement grpc-go performs still applies to it being an
// interface type, not a struct.
type TracDataServiceServer interface{}

var _ TracDataServiceServer = (*Server)(nil)

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for TracDataService in trac.proto: one MethodDesc per
// unary RPC, one StreamDesc per streaming RPC, dispatching onto *Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "trac.v1.TracDataService",
	HandlerType: (*TracDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSmallDataset", Handler: createSmallDatasetHandler},
		{MethodName: "UpdateSmallDataset", Handler: updateSmallDatasetHandler},
		{MethodName: "ReadSmallDataset", Handler: readSmallDatasetHandler},
		{MethodName: "CreateSmallFile", Handler: createSmallFileHandler},
		{MethodName: "UpdateSmallFile", Handler: updateSmallFileHandler},
		{MethodName: "ReadSmallFile", Handler: readSmallFileHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "CreateDataset", Handler: createDatasetHandler, ClientStreams: true},
		{StreamName: "UpdateDataset", Handler: updateDatasetHandler, ClientStreams: true},
		{StreamName: "ReadDataset", Handler: readDatasetHandler, ServerStreams: true},
		{StreamName: "CreateFile", Handler: createFileHandler, ClientStreams: true},
		{StreamName: "UpdateFile", Handler: updateFileHandler, ClientStreams: true},
		{StreamName: "ReadFile", Handler: readFileHandler, ServerStreams: true},
	},
	Metadata: "trac/v1/trac.proto",
}

// RegisterServer attaches srv to gs, mirroring the
// RegisterTracDataServiceServer function protoc-gen-go-grpc would emit.
func RegisterServer(gs grpc.ServiceRegistrar, srv *Server) {
	gs.RegisterService(&ServiceDesc, srv)
}
