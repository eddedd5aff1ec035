package location

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// DeviceFix is one message on the device bridge stream.
type DeviceFix struct {
	Lat               float64  `json:"lat"`
	Lng               float64  `json:"lng"`
	Accuracy          *float64 `json:"accuracy,omitempty"`
	Ts                int64    `json:"ts"`
	ServicesEnabled   bool     `json:"services_enabled"`
	PermissionGranted bool     `json:"permission_granted"`
}

// Ack is returned when the device closes the stream.
type Ack struct {
	Received int64 `json:"received"`
}

// LocationServer defines the gRPC contract.
type LocationServer interface {
	StreamFixes(Location_StreamFixesServer) error
}

// RegisterLocationServer registers service implementation.
func RegisterLocationServer(s *grpc.Server, srv LocationServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "location.Location",
		HandlerType: (*LocationServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamFixes",
			Handler:       _Location_StreamFixes_Handler,
			ClientStreams: true,
		}},
	}, srv)
}

// Location_StreamFixesServer defines the client stream interface.
type Location_StreamFixesServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DeviceFix, error)
}

func _Location_StreamFixes_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LocationServer).StreamFixes(&fixStreamServer{ServerStream: stream})
}

type fixStreamServer struct {
	grpc.ServerStream
}

func (s *fixStreamServer) SendAndClose(ack *Ack) error { return s.ServerStream.SendMsg(ack) }

func (s *fixStreamServer) Recv() (*DeviceFix, error) {
	msg := new(DeviceFix)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Codec encodes stream messages as JSON. Servers install it with
// grpc.ForceServerCodec, clients with grpc.ForceCodec.
func Codec() encoding.Codec { return jsonCodec{} }

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }
