package transport

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/vimgrid/schema"
)

// wrapTransportError classifies stream failures. Anything that ends the
// stream maps to ConnectionClosed except deadlines, which map to Timeout.
func wrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *schema.ProtocolError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled) {
		return schema.NewProtocolError(schema.ProtocolErrorClosed, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewProtocolError(schema.ProtocolErrorTimeout, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return schema.NewProtocolError(schema.ProtocolErrorTimeout, op, err)
		case codes.InvalidArgument, codes.Internal, codes.DataLoss:
			return schema.NewProtocolError(schema.ProtocolErrorMalformed, op, err)
		default:
			return schema.NewProtocolError(schema.ProtocolErrorClosed, op, err)
		}
	}
	return schema.NewProtocolError(schema.ProtocolErrorClosed, op, err)
}
