// cmd/push-gateway/main.go
package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/bootstrap"
	"boxoffice/internal/service/push"
)

const (
	serviceName = "push-gateway"
	defaultPort = 8088
)

var nodeID = "push-gateway-" + uuid.New().String()[:8]

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
				return errors.New("push-gateway requires kafka.brokers")
			}
			hub := push.NewHub()
			app.Go(hub.Run)

			// 每个节点独立消费全部结果，只推送给连在本节点上的客户端
			consumer := push.NewOutcomeConsumer(cfg.Kafka.Brokers, cfg.Kafka.OutcomeTopic, nodeID, hub)
			app.Go(consumer.Start)

			app.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			app.Mux.HandleFunc("GET /ws", hub.ServeWs)
			app.Mux.HandleFunc("GET /subscribers/{key}", func(w http.ResponseWriter, r *http.Request) {
				n, err := hub.Subscribers(r.Context(), r.PathValue("key"))
				if err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(strconv.Itoa(n)))
			})
			log.Info().Str("node_id", nodeID).Msg("Push gateway wired")
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Push gateway exited")
	}
}
