// Package transport exposes gRPC handlers.
package transport

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes a service's serving status on a gRPC health server.
type HealthReporter struct {
	server  *health.Server
	service string
}

// NewHealthReporter registers service as NOT_SERVING until the first report.
func NewHealthReporter(server *health.Server, service string) *HealthReporter {
	server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server, service: service}
}

// SetServing reports the service as serving or not. The overall server status follows it.
func (r *HealthReporter) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus(r.service, status)
	r.server.SetServingStatus("", status)
}
