package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out)
}

func (c *Client) viewCall(ctx context.Context, method string, in proto.Message) (ViewDoc, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out); err != nil {
		return ViewDoc{}, err
	}
	var doc ViewDoc
	if err := fromStruct(out, &doc); err != nil {
		return ViewDoc{}, fmt.Errorf("decode view: %w", err)
	}
	return doc, nil
}

func (c *Client) Status(ctx context.Context) (StatusDoc, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return StatusDoc{}, err
	}
	var doc StatusDoc
	if err := fromStruct(out, &doc); err != nil {
		return StatusDoc{}, fmt.Errorf("decode status: %w", err)
	}
	return doc, nil
}

func (c *Client) View(ctx context.Context) (ViewDoc, error) {
	return c.viewCall(ctx, "GetView", &emptypb.Empty{})
}

func (c *Client) SignIn(ctx context.Context, userID, token string) (ViewDoc, error) {
	req, err := toStruct(map[string]string{"userId": userID, "token": token})
	if err != nil {
		return ViewDoc{}, err
	}
	return c.viewCall(ctx, "SignIn", req)
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.invoke(ctx, "SignOut", &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) LoadConversations(ctx context.Context) (ViewDoc, error) {
	return c.viewCall(ctx, "LoadConversations", &emptypb.Empty{})
}

func (c *Client) Open(ctx context.Context, conversationID string) (ViewDoc, error) {
	return c.viewCall(ctx, "OpenConversation", wrapperspb.String(conversationID))
}

func (c *Client) CloseConversation(ctx context.Context) (ViewDoc, error) {
	return c.viewCall(ctx, "CloseConversation", &emptypb.Empty{})
}

func (c *Client) Send(ctx context.Context, conversationID, body string) (ViewDoc, error) {
	req, err := toStruct(map[string]string{"conversationId": conversationID, "body": body})
	if err != nil {
		return ViewDoc{}, err
	}
	return c.viewCall(ctx, "SendMessage", req)
}

func (c *Client) Create(ctx context.Context, counterpartyID, subject, initialMessage string) (ViewDoc, error) {
	req, err := toStruct(map[string]string{
		"counterpartyId": counterpartyID,
		"subject":        subject,
		"initialMessage": initialMessage,
	})
	if err != nil {
		return ViewDoc{}, err
	}
	return c.viewCall(ctx, "CreateConversation", req)
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID string) (ViewDoc, error) {
	return c.viewCall(ctx, "MarkAsRead", wrapperspb.String(conversationID))
}

func (c *Client) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	req, err := toStruct(map[string]any{"conversationId": conversationID, "isTyping": isTyping})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "SetTyping", req, &emptypb.Empty{})
}

// Watch calls fn with every view the daemon pushes until ctx is cancelled,
// the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(ViewDoc) error) error {
	desc := &grpc.StreamDesc{StreamName: "WatchView", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+serviceName+"/WatchView")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := &structpb.Struct{}
		if err := stream.RecvMsg(out); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var doc ViewDoc
		if err := fromStruct(out, &doc); err != nil {
			return fmt.Errorf("decode view: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}
