// cmd/booking-service/main.go
package main

import (
	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/bootstrap"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.Load(bootstrap.ConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      cfg.Service.Name,
		Port:             cfg.Service.Port,
		Config:           cfg,
		RegisterHandlers: wire,
	}); err != nil {
		log.Fatal().Err(err).Msg("Booking service exited")
	}
}
