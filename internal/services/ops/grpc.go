package ops

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

// gRPC health service names.
const (
	ServiceTelemetry  = "telemetry"
	ServiceInspection = "inspection"
)

// HealthReporter keeps the gRPC health service in sync with the daemon subsystems.
type HealthReporter struct {
	server     *health.Server
	checker    *HealthChecker
	inspection bool
	telemetry  bool
}

func NewHealthReporter(checker *HealthChecker, telemetryEnabled, inspectionEnabled bool) *HealthReporter {
	return &HealthReporter{
		server:     health.NewServer(),
		checker:    checker,
		telemetry:  telemetryEnabled,
		inspection: inspectionEnabled,
	}
}

func (r *HealthReporter) Server() *health.Server { return r.server }

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Sync updates every service status once.
func (r *HealthReporter) Sync(ctx context.Context) {
	st := r.checker.Check(ctx)
	telemetryOK := r.telemetry && st.MQTTConnected
	r.server.SetServingStatus(ServiceTelemetry, servingStatus(telemetryOK))
	r.server.SetServingStatus(ServiceInspection, servingStatus(r.inspection))
	r.server.SetServingStatus("", servingStatus(st.Status != "down"))
}

// Run syncs on every tick until ctx is done, then marks everything not serving.
func (r *HealthReporter) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	r.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-t.C:
			r.Sync(ctx)
		}
	}
}

// ServeGRPC serves the health service on addr until ctx is done.
func ServeGRPC(ctx context.Context, addr string, hs *health.Server, log *logger.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	log.Infow("grpc health listening", "addr", addr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
