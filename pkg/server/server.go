// Copyright 2024 Nokia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/sdcio/workpool/pkg/config"
	"github.com/sdcio/workpool/pkg/pool"
)

const (
	healthRefreshInterval = time.Second
	httpShutdownTimeout   = 5 * time.Second
)

type Server struct {
	config *config.Config
	ready  atomic.Bool

	ctx context.Context
	cfn context.CancelFunc

	srv    *grpc.Server
	health *health.Server

	router  *mux.Router
	reg     *prometheus.Registry
	httpSrv *http.Server

	pools   *PoolMap
	metrics *pool.Metrics

	stopOnce sync.Once
}

func New(ctx context.Context, c *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(ctx)
	var s = &Server{
		config: c,
		ctx:    ctx,
		cfn:    cancel,

		pools: NewPoolMap(),

		router: mux.NewRouter(),
		reg:    prometheus.NewRegistry(),
		health: health.NewServer(),
	}
	s.metrics = pool.NewMetrics(s.reg)
	s.reg.MustRegister(collectors.NewGoCollector())
	s.reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// gRPC server options
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(c.GRPCServer.MaxRecvMsgSize),
	}
	// unary interceptors
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		s.readyInterceptor,
		s.timeoutInterceptor,
	}

	grpcMetrics := grpc_prometheus.NewServerMetrics()
	opts = append(opts,
		grpc.StreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	unaryInterceptors = append(unaryInterceptors, grpcMetrics.UnaryServerInterceptor())
	s.reg.MustRegister(grpcMetrics)

	opts = append(opts, grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(unaryInterceptors...)))

	if c.GRPCServer.TLS != nil {
		tlsCfg, err := c.GRPCServer.TLS.NewConfig(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	s.srv = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	grpcMetrics.InitializeMetrics(s.srv)

	for _, pc := range c.Pools {
		if err := s.createPool(pc); err != nil {
			s.pools.StopAll()
			cancel()
			return nil, err
		}
	}
	s.registerRoutes()
	s.httpSrv = &http.Server{
		Addr:         c.Prometheus.Address,
		Handler:      s.router,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	s.refreshHealth()
	return s, nil
}

func (s *Server) createPool(pc *config.PoolConfig) error {
	var opts []pool.Option
	if pc.Metrics != nil && *pc.Metrics {
		opts = append(opts, pool.WithMetrics(s.metrics))
	}
	p := pool.New(pc.Name, opts...)
	if err := s.pools.AddPool(p); err != nil {
		return err
	}
	if pc.Start != nil && !*pc.Start {
		log.Infof("pool %s configured but not started", pc.Name)
		return nil
	}
	return p.Start(pc.Workers)
}

// Pools gives in-process access to the pools owned by the server.
func (s *Server) Pools() *PoolMap { return s.pools }

func (s *Server) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.GRPCServer.Address)
	if err != nil {
		return err
	}

	// Serve returns when either the caller's ctx ends or Stop is called.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(s.ctx, cancel)
	defer release()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Infof("starting server on %s", s.config.GRPCServer.Address)
		err := s.srv.Serve(l)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		log.Infof("starting HTTP server on %s", s.config.Prometheus.Address)
		err := s.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		s.watchPools(ctx)
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.Stop()
		return nil
	})

	s.ready.Store(true)
	log.Infof("ready...")
	return eg.Wait()
}

// Stop shuts down both listeners and joins the workers of every pool. Every
// pool stops accepting tasks before the first one is joined.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.ready.Store(false)
		s.pools.InterruptAll()
		s.refreshHealth()
		s.health.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Errorf("HTTP server shutdown: %v", err)
		}
		s.srv.GracefulStop()
		s.pools.StopAll()
		s.cfn()
	})
}

// watchPools keeps the health status of every pool current. Pools can be
// interrupted from inside a task, so lifecycle calls alone are not enough.
func (s *Server) watchPools(ctx context.Context) {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

func (s *Server) refreshHealth() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, p := range s.pools.GetPoolAll() {
		st := servingStatus(p.State())
		s.health.SetServingStatus(p.Name(), st)
		if st != healthpb.HealthCheckResponse_SERVING {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", overall)
}

func servingStatus(st pool.State) healthpb.HealthCheckResponse_ServingStatus {
	if st == pool.StateRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *Server) timeoutInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	ctx, cfn := context.WithTimeout(ctx, s.config.GRPCServer.RPCTimeout)
	defer cfn()
	return handler(ctx, req)
}

func (s *Server) readyInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	if !s.ready.Load() {
		return nil, status.Error(codes.Unavailable, "not ready")
	}
	return handler(ctx, req)
}
