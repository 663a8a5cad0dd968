package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The session service has a single bidirectional stream. Every frame is a
// BytesValue holding exactly one wire-framed message, so the service needs no
// generated code beyond the well-known wrapper type.
const (
	serviceName   = "vimgrid.transport.v1.Session"
	connectMethod = "/" + serviceName + "/Connect"
)

type sessionService interface {
	connect(stream grpc.ServerStream) error
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*sessionService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "vimgrid/transport/v1/session.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(sessionService).connect(stream)
}

// frameStream is the part of a gRPC stream an Endpoint needs.
type frameStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	Context() context.Context
}

type serverFrames struct {
	grpc.ServerStream
}

func (s serverFrames) Send(frame *wrapperspb.BytesValue) error {
	return s.SendMsg(frame)
}

func (s serverFrames) Recv() (*wrapperspb.BytesValue, error) {
	frame := new(wrapperspb.BytesValue)
	if err := s.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

type clientFrames struct {
	grpc.ClientStream
}

func (c clientFrames) Send(frame *wrapperspb.BytesValue) error {
	return c.SendMsg(frame)
}

func (c clientFrames) Recv() (*wrapperspb.BytesValue, error) {
	frame := new(wrapperspb.BytesValue)
	if err := c.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}
