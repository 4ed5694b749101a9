package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	"pyrite/internal/core/services"
	"pyrite/internal/core/state"
	httphandlers "pyrite/internal/handlers/http"
	"pyrite/internal/infrastructure/capture"
	"pyrite/internal/infrastructure/middleware"
	"pyrite/internal/infrastructure/monitoring"
	"pyrite/internal/infrastructure/repositories/memory"
	reporedis "pyrite/internal/infrastructure/repositories/redis"
	sig "pyrite/internal/infrastructure/signal"
	pwebrtc "pyrite/internal/infrastructure/webrtc"
	"pyrite/pkg/auth"
	"pyrite/pkg/config"
	apperrors "pyrite/pkg/errors"
	"pyrite/pkg/logger"
	"pyrite/pkg/retry"
	"pyrite/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "pyrite",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Token != "" {
		info, err := auth.Check(cfg.Server.Token, cfg.Server.Group, time.Now())
		if err != nil {
			log.Fatalw("unusable access token", "group", cfg.Server.Group, "error", err)
		}
		if info.Username != "" {
			cfg.Server.Username = info.Username
		}
		log.Infow("using access token", "username", info.Username, "expires_at", info.ExpiresAt)
	}

	// Metrics
	var (
		metrics  ports.MetricsRecorder = services.NoopMetrics{}
		gatherer prometheus.Gatherer
	)
	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = monitoring.NewPrometheusCollector(reg)
		gatherer = reg
	}

	// Media and transport
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	engine, err := pwebrtc.NewEngine(pwebrtc.Config{
		ICEServers: iceServers,
		PortRange:  pwebrtc.PortRange{Min: cfg.WebRTC.PortRange.Min, Max: cfg.WebRTC.PortRange.Max},
	}, log)
	if err != nil {
		log.Fatalw("failed to create WebRTC engine", "error", err)
	}

	opts := sig.Options{
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		PingInterval:     cfg.Server.PingInterval,
		PongTimeout:      cfg.Server.PongTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.Burst
	}
	dialer := sig.NewDialer(engine, opts, log.Named("signal"))
	provider := capture.NewProvider(cfg.Media.Devices, cfg.Media.Display.File, log.Named("capture"))

	// Session
	loop := services.NewEventLoop(log.Named("loop"))
	bus := services.NewEventBus(log)
	bus.Subscribe(func(e domain.Event) {
		log.Debugw("session event", "type", e.Type())
	})
	store := state.NewStore(cfg.Server.Group, cfg.Server.Username, domain.Credentials{
		Password: cfg.Server.Password,
		Token:    cfg.Server.Token,
	})
	registry := memory.NewStreamRegistry(log)
	notifier := services.NewNotificationService(bus, metrics, log.Named("notify"), cfg.Media.NotificationTimeout)
	defer notifier.Close()
	services.On(bus, func(e domain.NotificationEvent) {
		if !e.Expired {
			log.Infow("notification", "level", e.Notification.Level, "message", e.Notification.Message)
		}
	})

	devices := services.NewDeviceService(provider, notifier, log)
	bandwidth := services.NewBandwidthService(notifier, metrics, log)
	upstream := services.NewUpstreamService(registry, bandwidth, notifier, bus, loop, metrics, log.Named("upstream"))
	redirects := newRedirector(log)
	session := services.NewSessionService(
		loop, store, registry, upstream, devices, notifier, bus,
		dialer, provider, redirects, metrics, log.Named("session"),
		services.SessionOptions{
			Accept:     domain.AcceptMode(cfg.Media.Accept),
			Tier:       domain.UpstreamTier(cfg.Media.Upstream),
			Resolution: domain.Resolution(cfg.Media.Resolution),
			Presence:   domain.Presence{Camera: cfg.Media.Camera, Microphone: cfg.Media.Microphone},
		},
	)
	defer session.Close()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		_ = loop.Run(loopCtx)
	}()

	if err := devices.Refresh(ctx); err != nil {
		log.Warnw("device enumeration failed", "error", err)
	}

	// Health and event mirroring
	checker := monitoring.NewHealthChecker()
	checker.AddSessionCheck(store.Connected)

	if cfg.Redis.Enabled {
		client, err := reporedis.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		defer reporedis.CloseRedisClient(client)

		mirror := reporedis.NewEventMirror(client, cfg.Redis.Channel, cfg.Server.Username, reporedis.DefaultHistorySize,
			reporedis.WithCircuitBreaker(5, 30*time.Second, log.Named("mirror")))
		detach := bus.AttachSink(ctx, mirror, 256)
		defer detach()
		checker.AddPingCheck("redis", mirror, 30*time.Second, 2*time.Second)
	}
	checker.StartBackgroundChecks(ctx, func(name, result string) {
		log.Warnw("health check failed", "check", name, "result", result)
	})

	// Control API
	var srv *http.Server
	if cfg.Control.Enabled {
		srv = newControlServer(cfg, zapLogger, store, session, devices, notifier, checker, gatherer)
		go func() {
			log.Infow("starting control API", "address", cfg.Control.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("control API failed", "error", err)
				stop()
			}
		}()
	}

	retryCfg := retry.Config{
		Enabled:      cfg.Reconnect.Enabled,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   cfg.Reconnect.Multiplier,
		Jitter:       true,
		NonRetryableErrors: []error{
			services.ErrLoopStopped,
			context.Canceled,
		},
		ShouldRetry: func(err error) bool {
			return !apperrors.HasCode(err, apperrors.ErrCodeProtocol)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warnw("retrying connection", "attempt", attempt, "delay", delay, "error", err)
		},
	}
	connect := func(url string) {
		err := retry.Retry(ctx, retryCfg, func(ctx context.Context) error {
			return session.Connect(ctx, url)
		})
		if err != nil {
			log.Errorw("giving up on connection", "url", url, "error", err)
		}
	}

	connect(cfg.Server.URL)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case next := <-redirects.targets:
			if next.group != "" {
				store.SetGroup(next.group)
			}
			log.Infow("following redirect", "url", next.url, "group", store.Group())
			connect(next.url)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Disconnect(shutdownCtx); err != nil {
		log.Warnw("disconnect failed", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("control API shutdown failed", "error", err)
		}
	}
	stopLoop()
	<-loop.Stopped()
}

func newControlServer(
	cfg *config.Config,
	zapLogger *zap.Logger,
	store *state.Store,
	session *services.SessionService,
	devices *services.DeviceService,
	notifier *services.NotificationService,
	checker *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *http.Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zapLogger.Sugar().Named("control")
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger.Named("control")), store.Group),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)
	api := router.Group("", middleware.BearerTokenMiddleware(cfg.Control.Token))
	httphandlers.NewSessionHandler(session, devices, notifier).SetupRoutes(api)

	return &http.Server{
		Addr:              cfg.Control.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
