package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "carechat.v1.ChatService"

// ChatServer is the server API for the ChatService service.
type ChatServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetView(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	LoadConversations(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	OpenConversation(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CloseConversation(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkAsRead(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SetTyping(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	WatchView(*emptypb.Empty, ViewStream) error
}

// ViewStream is the server side of WatchView.
type ViewStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type viewStream struct {
	grpc.ServerStream
}

func (s *viewStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed handler to a grpc.MethodHandler.
func unary[Req proto.Message, Resp proto.Message](method string, newReq func() Req, call func(ChatServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	full := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty {
	return &emptypb.Empty{}
}

func newStruct() *structpb.Struct {
	return &structpb.Struct{}
}

func newString() *wrapperspb.StringValue {
	return &wrapperspb.StringValue{}
}

// ServiceDesc describes the ChatService service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, ChatServer.GetStatus),
		unary("GetView", newEmpty, ChatServer.GetView),
		unary("SignIn", newStruct, ChatServer.SignIn),
		unary("SignOut", newEmpty, ChatServer.SignOut),
		unary("LoadConversations", newEmpty, ChatServer.LoadConversations),
		unary("OpenConversation", newString, ChatServer.OpenConversation),
		unary("CloseConversation", newEmpty, ChatServer.CloseConversation),
		unary("SendMessage", newStruct, ChatServer.SendMessage),
		unary("CreateConversation", newStruct, ChatServer.CreateConversation),
		unary("MarkAsRead", newString, ChatServer.MarkAsRead),
		unary("SetTyping", newStruct, ChatServer.SetTyping),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchView",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := &emptypb.Empty{}
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServer).WatchView(in, &viewStream{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "carechat/v1/chat.proto",
}
