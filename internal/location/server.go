package location

import (
	"io"

	"go.uber.org/zap"
)

// Server implements the LocationServer interface.
type Server struct {
	provider *StreamProvider
	logger   *zap.Logger
}

// NewServer constructs a server.
func NewServer(provider *StreamProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{provider: provider, logger: logger.Named("device-bridge")}
}

// StreamFixes ingests device messages until the bridge closes the stream.
func (s *Server) StreamFixes(stream Location_StreamFixesServer) error {
	var received int64
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{Received: received})
		}
		if err != nil {
			s.logger.Debug("device stream ended", zap.Error(err))
			return err
		}
		received++
		deviceMessages.Inc()
		if !s.provider.Ingest(msg) {
			s.logger.Debug("dropped invalid device fix", zap.Float64("lat", msg.Lat), zap.Float64("lng", msg.Lng))
		}
	}
}
