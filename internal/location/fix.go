package location

import (
	"context"
	"errors"
	"time"

	"github.com/ikramby/carburon/internal/geo"
)

var (
	ErrServicesDisabled   = errors.New("location services are disabled")
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrAcquisitionTimeout = errors.New("timed out acquiring a location fix")
)

// Quality is the advisory accuracy class of a fix.
type Quality string

const (
	QualityNominal  Quality = "nominal"
	QualityDegraded Quality = "degraded"
	QualityPoor     Quality = "poor-signal"
	QualityUnknown  Quality = "unknown"
)

// Fix is a single device position reading.
type Fix struct {
	Point     geo.Point `json:"point"`
	Accuracy  *float64  `json:"accuracy_m,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Quality classifies the reported accuracy. It never blocks callers.
func (f Fix) Quality() Quality {
	switch {
	case f.Accuracy == nil:
		return QualityUnknown
	case *f.Accuracy > 100:
		return QualityPoor
	case *f.Accuracy >= 50:
		return QualityDegraded
	default:
		return QualityNominal
	}
}

// Provider is the platform location service.
type Provider interface {
	ServicesEnabled(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (bool, error)
	// CurrentFix returns a fix no older than maxAge; zero maxAge forces a new one.
	CurrentFix(ctx context.Context, maxAge time.Duration) (Fix, error)
	// Subscribe streams raw fixes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Fix, error)
}

// PositionPublisher receives every emitted fix, fire-and-forget.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, fix Fix) error
}
