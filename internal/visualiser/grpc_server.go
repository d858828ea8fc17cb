package visualiser

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "mockscanner.DataViewer"
	streamDataName = "StreamData"
	streamDataPath = "/" + serviceName + "/" + streamDataName
)

// DataViewerServer streams frames to one client. Frames travel as
// google.protobuf.Struct messages.
type DataViewerServer interface {
	StreamData(req *emptypb.Empty, stream grpc.ServerStream) error
}

var dataViewerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DataViewerServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    streamDataName,
		Handler:       streamDataHandler,
		ServerStreams: true,
	}},
	Metadata: "mockscanner/dataviewer",
}

func streamDataHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(DataViewerServer).StreamData(req, stream)
}

// RegisterDataViewerServer registers srv on s.
func RegisterDataViewerServer(s grpc.ServiceRegistrar, srv DataViewerServer) {
	s.RegisterService(&dataViewerServiceDesc, srv)
}

// Server implements DataViewerServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

var _ DataViewerServer = (*Server)(nil)

func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamData sends every published frame until the client goes away or the
// publisher stops.
func (s *Server) StreamData(_ *emptypb.Empty, stream grpc.ServerStream) error {
	client, err := s.publisher.addClient()
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case f := <-client.frameCh:
			if err := stream.SendMsg(f.ToStruct()); err != nil {
				log.Printf("[gRPC] Send error to %s: %v", client.id, err)
				return err
			}
		}
	}
}

// Client receives frames from a DataViewer server.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// FrameStream is an open StreamData call.
type FrameStream struct {
	stream grpc.ClientStream
}

// Stream opens a StreamData call. Cancel ctx to end it.
func (c *Client) Stream(ctx context.Context) (*FrameStream, error) {
	cs, err := c.conn.NewStream(ctx, &dataViewerServiceDesc.Streams[0], streamDataPath)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}
	return &FrameStream{stream: cs}, nil
}

// Recv blocks for the next frame. It returns io.EOF when the server ends the
// stream.
func (fs *FrameStream) Recv() (*Frame, error) {
	msg := new(structpb.Struct)
	if err := fs.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return FrameFromStruct(msg)
}
