package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/app"
	"voice-hud-service/internal/config"
	"voice-hud-service/internal/credential"
	"voice-hud-service/internal/events"
	httpapi "voice-hud-service/internal/http"
	"voice-hud-service/internal/leads"
	"voice-hud-service/internal/observability"
	"voice-hud-service/internal/observability/metrics"
	"voice-hud-service/internal/provider"
	"voice-hud-service/internal/provider/elevenlabs"
	"voice-hud-service/internal/provider/mock"
)

const (
	healthServiceName = "voice.hud.HUDService"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)

	directory, err := loadDirectory(cfg.Agents)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent table")
	}
	for _, id := range append([]agent.Identity{directory.Default()}, directory.Entries()...) {
		if !id.Configured() {
			log.Warn().Str("route", id.Route).Msg("No agent id configured, voice calls unavailable on this route")
		}
	}

	// Kafka publisher with separate topics for session and lead events
	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicSession: cfg.Kafka.TopicSession,
		TopicLead:    cfg.Kafka.TopicLead,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	relay := leads.NewRelay(leads.Config{
		Forms:     formsForwarder(cfg.Leads),
		Quotes:    quoteForwarder(cfg.Leads),
		Publisher: publisher,
		Timeout:   cfg.Leads.Timeout,
	})

	var signer httpapi.Signer
	if cfg.ElevenLabs.APIKey != "" {
		signer = elevenlabs.NewSignedURLClient(cfg.ElevenLabs.BaseURL, cfg.ElevenLabs.APIKey, cfg.Credential.Timeout)
	} else {
		log.Warn().Msg("ELEVENLABS_API_KEY not set, conversation tokens unavailable")
	}
	if len(cfg.Service.SiteKeys) == 0 {
		log.Warn().Msg("SITE_KEYS not set, conversation token endpoint is unauthenticated")
	}

	handlers := &httpapi.Handlers{
		Directory: directory,
		Signer:    signer,
		SiteKeys:  cfg.Service.SiteKeys,
		Relay:     relay,
	}
	hud := httpapi.NewHUDHandler(httpapi.HUDConfig{
		Directory:   directory,
		Credentials: credential.NewClient(cfg.Credential.EndpointURL, cfg.Credential.BearerToken, cfg.Credential.Timeout),
		Provider:    newProvider(cfg),
		Publisher:   publisher,
		Overrides: provider.Overrides{
			FirstMessage: cfg.Session.FirstMessage,
			Language:     cfg.Session.Language,
		},
		ReadyTimeout:   cfg.Session.ReadyTimeout,
		PollInterval:   cfg.Session.PollInterval,
		DragThreshold:  cfg.Session.DragThreshold,
		MediaTimeout:   cfg.Session.MediaTimeout,
		AllowedOrigins: cfg.Service.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, handlers, hud),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen for gRPC")
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)
	obsServer.Start()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()

		log.Info().Msg("Shutting down")
		application.Shutdown()
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked HUD connections are not tracked by Shutdown.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := hud.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HUD connections still open at shutdown")
		}
		if err := relay.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Lead submissions still in flight at shutdown")
		}
		grpcServer.GracefulStop()
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Observability shutdown incomplete")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Voice HUD service stopped")
}

// loadDirectory builds the agent table from the optional file and the
// per-route environment overrides.
func loadDirectory(cfg config.AgentsConfig) (*agent.Directory, error) {
	directory := agent.Builtin()
	if cfg.File != "" {
		loaded, err := agent.LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		directory = loaded
	}
	return directory.WithAgentIDs(map[string]string{
		agent.HubRoute: cfg.HubID,
		"/steakhouse":  cfg.SteakhouseID,
		"/sushi":       cfg.SushiID,
		"/trattoria":   cfg.TrattoriaID,
		"/taqueria":    cfg.TaqueriaID,
	}), nil
}

func newProvider(cfg *config.Configuration) provider.Adapter {
	switch cfg.Session.Provider {
	case "elevenlabs":
		log.Info().Msg("Using ElevenLabs voice provider")
		return elevenlabs.New(elevenlabs.Config{
			BaseWSURL:       cfg.ElevenLabs.BaseWSURL,
			QuietAfterAudio: cfg.Session.QuietAfterAudio,
		})
	default:
		log.Info().Str("provider", cfg.Session.Provider).Msg("Using mock voice provider")
		return mock.New()
	}
}

// formsForwarder and quoteForwarder return untyped nil when the downstream is
// not configured, so the relay sees a nil interface.
func formsForwarder(cfg config.LeadsConfig) leads.LeadForwarder {
	if c := leads.NewFormsClient(cfg.FormsBaseURL, cfg.PortalID, cfg.FormGUID, cfg.Timeout); c != nil {
		return c
	}
	log.Info().Msg("CRM forms forwarding disabled")
	return nil
}

func quoteForwarder(cfg config.LeadsConfig) leads.QuoteForwarder {
	if c := leads.NewQuoteClient(cfg.QuoteURL, cfg.QuoteToken, cfg.Timeout); c != nil {
		return c
	}
	log.Info().Msg("Quote forwarding disabled")
	return nil
}
