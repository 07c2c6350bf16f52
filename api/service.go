package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"Mail2Ledger/internal/logger"
)

type GatewayService struct {
	config map[string]interface{}
	deps   Deps
	srv    *http.Server
}

func NewGatewayService(cfg map[string]interface{}, deps Deps) *GatewayService {
	return &GatewayService{config: cfg, deps: deps}
}

func (s *GatewayService) Name() string {
	return "gateway"
}

// Addr is config.addr, else ":" + config.port, else ":8081".
func (s *GatewayService) Addr() string {
	if addr, ok := s.config["addr"].(string); ok && addr != "" {
		return addr
	}
	switch v := s.config["port"].(type) {
	case int:
		return fmt.Sprintf(":%d", v)
	case string:
		if v != "" {
			return ":" + v
		}
	}
	return ":8081"
}

func (s *GatewayService) Start() error {
	s.srv = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewRouter(NewGateway(s.deps)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log := logger.L()
			log.Error().Err(err).Str("addr", srv.Addr).Msg("gateway server failed")
		}
	}()
	logger.Audit(fmt.Sprintf("API Gateway started on %s", s.srv.Addr))
	return nil
}

func (s *GatewayService) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.deps.SSE != nil {
		s.deps.SSE.Stop()
	}
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	return err
}
