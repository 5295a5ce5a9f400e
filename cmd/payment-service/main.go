// cmd/payment-service/main.go
package main

import (
	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/bootstrap"
	"boxoffice/internal/service/payment/application"
	"boxoffice/internal/service/payment/interfaces"
)

const (
	serviceName = "payment-service"
	defaultPort = 8090
)

func main() {
	cfg, err := bootstrap.Load(bootstrap.ConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	// 与 booking-service 共用配置文件时，端口和服务名不能沿用对方的
	cfg.Service.Name = serviceName
	if cfg.Service.Port == bootstrap.Default().Service.Port {
		cfg.Service.Port = defaultPort
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		Config:      cfg,
		RegisterHandlers: func(app *bootstrap.AppCtx) error {
			processor := application.NewProcessor(application.FaultRules{
				DeclineRate:     cfg.Payment.DeclineRate,
				UnavailableRate: cfg.Payment.UnavailableRate,
				Latency:         cfg.Payment.Latency,
				MaxAmountCents:  cfg.Payment.MaxAmountCents,
			})
			interfaces.NewPaymentHandler(processor).RegisterRoutes(app.Mux)
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Payment service exited")
	}
}
