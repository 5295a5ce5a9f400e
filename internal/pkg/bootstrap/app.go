// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/nacos"
	"boxoffice/internal/pkg/netutil"
	"boxoffice/internal/pkg/tracing"
)

// Worker 是随服务一起运行的后台任务，ctx 取消时应尽快返回
type Worker func(ctx context.Context) error

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 nacos.addrs 时为 nil
	Config *Config

	workers []Worker
	closers []func(ctx context.Context) error
}

// Go 注册一个后台任务，和 HTTP server 在同一个 errgroup 中运行
func (a *AppCtx) Go(w Worker) {
	a.workers = append(a.workers, w)
}

// OnShutdown 注册清理函数，关停时按注册的相反顺序执行
func (a *AppCtx) OnShutdown(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	Config           *Config
	RegisterHandlers func(appCtx *AppCtx) error
}

// ConfigPath 读取 CONFIG_PATH，未设置时不加载文件
func ConfigPath() string {
	return getEnv("CONFIG_PATH", "")
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) error {
	cfg := info.Config
	if cfg == nil {
		cfg = GetCurrentConfig()
	}
	logger.Init(info.ServiceName, cfg.Log.Level, cfg.Log.Pretty)
	log := logger.Ctx(context.Background())

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Jaeger.Endpoint, cfg.Jaeger.SampleRatio)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}

	var naming *nacos.Client
	if cfg.Nacos.Addrs != "" {
		naming, err = nacos.NewNacosClient(cfg.Nacos.Addrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			return fmt.Errorf("init nacos client: %w", err)
		}
	}

	app := &AppCtx{Mux: http.NewServeMux(), Nacos: naming, Config: cfg}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(app); err != nil {
			return fmt.Errorf("register handlers: %w", err)
		}
	}

	var ip string
	if naming != nil {
		if ip, err = netutil.GetOutboundIP(); err != nil {
			return err
		}
		if err := naming.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           app.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	for _, w := range app.workers {
		g.Go(func() error { return w(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		// 先从注册中心摘除，再关闭 HTTP server
		if naming != nil {
			if err := naming.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown hook")
		}
	}
	if naming != nil {
		naming.Close()
	}
	// 确保缓冲的 span 全部发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil {
		log.Error().Err(runErr).Msgf("Service %s stopped with error", info.ServiceName)
		return runErr
	}
	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return nil
}
