package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/geo"
)

const maxDirectionsBody = 8 << 20

// PointSnapper is satisfied by *Snapper.
type PointSnapper interface {
	Snap(ctx context.Context, points []geo.Point, radiusMeters int) SnapResult
}

// PathGenerator is satisfied by *Generator.
type PathGenerator interface {
	Generate(origin, destination geo.Point) []geo.Point
}

// ResolverConfig holds resolver tunables.
type ResolverConfig struct {
	Bounds           geo.Bounds
	SnapRadiusMeters int
	AttemptTimeout   time.Duration
}

// Resolver turns an origin/destination pair into a drawable Path.
type Resolver struct {
	client     *http.Client
	snapper    PointSnapper
	strategies []Strategy
	generator  PathGenerator
	logger     *zap.Logger
	cfg        ResolverConfig
	tracer     trace.Tracer
}

// NewResolver wires the resolver collaborators. Strategies are tried in the
// order given.
func NewResolver(client *http.Client, snapper PointSnapper, strategies []Strategy, generator PathGenerator, logger *zap.Logger, cfg ResolverConfig) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if generator == nil {
		generator = NewGenerator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bounds == (geo.Bounds{}) {
		cfg.Bounds = geo.ServiceArea
	}
	if cfg.SnapRadiusMeters <= 0 {
		cfg.SnapRadiusMeters = DefaultSnapRadiusMeters
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	return &Resolver{
		client:     client,
		snapper:    snapper,
		strategies: strategies,
		generator:  generator,
		logger:     logger,
		cfg:        cfg,
		tracer:     otel.Tracer("rider.routing.resolver"),
	}
}

// Resolve always returns a path. Failures show up as a fallback-synthetic
// path carrying the triggering error.
func (r *Resolver) Resolve(ctx context.Context, origin, destination geo.Point) Path {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "route.resolve")
	defer span.End()

	path := r.resolve(ctx, origin, destination)
	span.SetAttributes(attribute.String("method", string(path.Method)), attribute.Int("points", len(path.Points)))
	if path.Err != nil {
		span.SetStatus(codes.Error, path.Err.Error())
	}
	resolveDuration.WithLabelValues(string(path.Method)).Observe(time.Since(start).Seconds())
	return path
}

func (r *Resolver) resolve(ctx context.Context, origin, destination geo.Point) Path {
	if !r.cfg.Bounds.Contains(origin) || !r.cfg.Bounds.Contains(destination) {
		r.logger.Warn("route endpoints outside service area",
			zap.Float64("origin_lat", origin.Lat), zap.Float64("origin_lng", origin.Lng),
			zap.Float64("dest_lat", destination.Lat), zap.Float64("dest_lng", destination.Lng))
		return r.fallback(origin, destination, ErrOutOfRegion, "out_of_region")
	}

	from, to := origin, destination
	if r.snapper != nil {
		snap := r.snapper.Snap(ctx, []geo.Point{origin, destination}, r.cfg.SnapRadiusMeters)
		if snap.Success && snap.AllSnapped {
			from, to = snap.Points[0].Point, snap.Points[1].Point
		} else {
			r.logger.Debug("using raw coordinates", zap.Error(ErrSnapFailed), zap.Bool("response", snap.Success))
		}
	}

	for _, strategy := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		points, steps, err := r.attempt(ctx, strategy, from, to)
		if err != nil {
			strategyAttempts.WithLabelValues(string(strategy.Method), "failure").Inc()
			r.logger.Info("routing strategy failed", zap.String("strategy", string(strategy.Method)), zap.Error(err))
			continue
		}
		strategyAttempts.WithLabelValues(string(strategy.Method), "success").Inc()
		r.logger.Debug("route resolved", zap.String("strategy", string(strategy.Method)),
			zap.Int("points", len(points)), zap.Int("steps", len(steps)))
		return Path{Points: points, Method: strategy.Method, Steps: steps}
	}

	if err := ctx.Err(); err != nil {
		return r.fallback(origin, destination, fmt.Errorf("%w: %v", ErrAllStrategiesFailed, err), "cancelled")
	}
	return r.fallback(origin, destination, ErrAllStrategiesFailed, "exhausted")
}

func (r *Resolver) attempt(ctx context.Context, strategy Strategy, from, to geo.Point) ([]geo.Point, []Step, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "route.strategy", trace.WithAttributes(attribute.String("strategy", string(strategy.Method))))
	defer span.End()

	points, steps, err := r.fetch(ctx, strategy, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return points, steps, err
}

func (r *Resolver) fetch(ctx context.Context, strategy Strategy, from, to geo.Point) ([]geo.Point, []Step, error) {
	if strategy.Build == nil {
		return nil, nil, errors.New("strategy has no request builder")
	}
	req, err := strategy.Build(ctx, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxDirectionsBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, nil, fmt.Errorf("provider status %d", res.StatusCode)
	}
	return parseDirections(body)
}

func (r *Resolver) fallback(origin, destination geo.Point, cause error, reason string) Path {
	fallbackTotal.WithLabelValues(reason).Inc()
	points := r.generator.Generate(origin, destination)
	r.logger.Info("using synthetic route", zap.String("reason", reason), zap.Int("points", len(points)))
	return Path{Points: points, Method: MethodFallback, Err: cause}
}
