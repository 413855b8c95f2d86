package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/mcdev12/planningpoker/go/internal/poker/events"
	"github.com/mcdev12/planningpoker/go/internal/poker/gateway"
	"github.com/mcdev12/planningpoker/go/internal/poker/metrics"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

type Services struct {
	Gateway  *gateway.Service
	Registry *prometheus.Registry
}

func setupPublisher(ctx context.Context, cfg EventsConfig) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.LogPublisher{}, nil
	}
	jc := events.DefaultJetStreamConfig()
	jc.URL = cfg.NATSURL
	jc.StreamName = cfg.Stream
	jc.MaxAge = cfg.MaxAge
	p, err := events.NewJetStreamPublisher(ctx, jc)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return p, nil
}

func setupServices(cfg Config, s store.Store, publisher events.Publisher) *Services {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.RoomConfig.IdleTimeout = cfg.Gateway.IdleTimeout
	gatewayConfig.ConnectionConfig.CommandRate = rate.Limit(cfg.Gateway.CommandRate)
	gatewayConfig.ConnectionConfig.CommandBurst = cfg.Gateway.CommandBurst

	svc := gateway.NewService(gatewayConfig, s,
		gateway.WithPublisher(publisher),
		gateway.WithRecorder(recorder),
	)
	metrics.RegisterGauges(reg, svc.Sessions, svc.Connections)

	return &Services{Gateway: svc, Registry: reg}
}
