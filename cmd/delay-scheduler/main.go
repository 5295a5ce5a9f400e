// cmd/delay-scheduler/main.go
package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/bootstrap"
	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/delay"
)

const (
	serviceName = "delay-scheduler"
	defaultPort = 8089
)

func main() {
	cfg, err := bootstrap.Load(bootstrap.ConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg.Service.Name = serviceName
	if cfg.Service.Port == bootstrap.Default().Service.Port {
		cfg.Service.Port = defaultPort
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		Config:      cfg,
		RegisterHandlers: func(app *bootstrap.AppCtx) error {
			if !cfg.Kafka.Enabled() {
				return errors.New("delay-scheduler requires kafka.brokers")
			}
			// 为每个延迟级别启动一个独立的调度器
			for _, level := range mq.DelayLevels {
				app.Go(delay.NewScheduler(cfg.Kafka.Brokers, level).Run)
			}
			app.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			app.Mux.Handle("GET /metrics", promhttp.Handler())
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Delay scheduler exited")
	}
}
