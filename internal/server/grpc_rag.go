package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/knoguchi/cyberrag/internal/rag"
	"github.com/knoguchi/cyberrag/internal/service"
)

// The RAG service carries google.protobuf.Struct messages whose fields match
// the JSON API bodies, so clients need no generated stubs:
//
//	/cyberrag.v1.RAG/Query         {"query": "...", "session_id": "...", "history": [...]}
//	/cyberrag.v1.RAG/Retrieve      {"query": "..."}
//	/cyberrag.v1.RAG/ClearSession  {"session_id": "..."}
var ragServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler: structHandler("Query", func(ctx context.Context, svc QueryService, req service.QueryRequest) (any, error) {
				return svc.Query(ctx, req)
			}),
		},
		{
			MethodName: "Retrieve",
			Handler: structHandler("Retrieve", func(ctx context.Context, svc QueryService, req service.RetrieveRequest) (any, error) {
				return svc.Retrieve(ctx, req)
			}),
		},
		{
			MethodName: "ClearSession",
			Handler: structHandler("ClearSession", func(_ context.Context, svc QueryService, req clearSessionRequest) (any, error) {
				return struct{}{}, svc.ClearSession(req.SessionID)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

type clearSessionRequest struct {
	SessionID string `json:"session_id"`
}

// structHandler adapts a typed service call to a unary method taking and
// returning a Struct. The request Struct is decoded like an HTTP body.
func structHandler[Req any](method string, call func(context.Context, QueryService, Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		handler := func(ctx context.Context, req any) (any, error) {
			var typed Req
			if err := fromStruct(req.(*structpb.Struct), &typed); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
			}
			resp, err := call(ctx, srv.(QueryService), typed)
			if err != nil {
				return nil, grpcError(err)
			}
			return toStruct(resp)
		}

		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return decodeStrict(data, v)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// grpcError maps service errors to status codes the same way writeError maps
// them to HTTP statuses. Causes stay in the server log.
func grpcError(err error) error {
	var stageErr *rag.StageError
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &stageErr):
		code := codes.Unavailable
		switch {
		case errors.Is(err, rag.ErrEmptyQuery):
			code = codes.InvalidArgument
		case errors.Is(err, context.DeadlineExceeded):
			code = codes.DeadlineExceeded
		case errors.Is(err, rag.ErrCanceled):
			code = codes.Canceled
		case errors.Is(err, rag.ErrInternal):
			code = codes.Internal
		}
		return status.Errorf(code, "%s: %s", stageErr.Stage, stageErr.UserMessage())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
