package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service name reported alongside the
// overall ("") status.
const ServiceName = "resq.Alerting"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes grpc.health.v1 and reflection. Health follows the store:
// SERVING while pings succeed, NOT_SERVING otherwise.
type Server struct {
	pinger        Pinger
	checkInterval time.Duration
	health        *health.Server
	grpcServer    *grpc.Server

	stopCheck chan struct{}
	checkDone sync.WaitGroup
	stopOnce  sync.Once
}

func NewServer(pinger Pinger, checkInterval time.Duration) *Server {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	s := &Server{
		pinger:        pinger,
		checkInterval: checkInterval,
		health:        health.NewServer(),
		grpcServer:    grpc.NewServer(),
		stopCheck:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

// Serve checks the store once, starts the check loop and blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.check()

	s.checkDone.Add(1)
	go s.checkLoop()

	return s.grpcServer.Serve(lis)
}

func (s *Server) checkLoop() {
	defer s.checkDone.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCheck:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Server) check() {
	ctx, cancel := context.WithTimeout(context.Background(), s.checkInterval)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		slog.Warn("store ping failed", "error", err)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop reports NOT_SERVING, ends the check loop and drains open RPCs.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		close(s.stopCheck)
		s.checkDone.Wait()
		s.grpcServer.GracefulStop()
	})
}
