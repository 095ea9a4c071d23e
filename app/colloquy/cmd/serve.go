package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/cchalm/colloquy/internal/auth"
	"github.com/cchalm/colloquy/internal/chat"
	"github.com/cchalm/colloquy/internal/events"
	"github.com/cchalm/colloquy/internal/generate"
	"github.com/cchalm/colloquy/internal/server"
	"github.com/cchalm/colloquy/internal/store/memory"
	"github.com/cchalm/colloquy/internal/store/postgres"
	"github.com/cchalm/colloquy/internal/telemetry"
	"github.com/cchalm/colloquy/internal/transport"
)

// eventAuditTopic is the sink topic carrying a copy of every stream event
const eventAuditTopic = "chat.events"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Starts the colloquy HTTP server. Conversations are served from memory
unless DATABASE_URL points at a PostgreSQL instance, and replies come from the
configured generation backend (simulated by default).`,
	PreRun: loadServeConfig,
	RunE:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&config.ListenAddr, "listen", ":8080", "Address to listen on")
	serveCmd.Flags().StringVar(&config.Backend, "backend", "simulated", "Generation backend: simulated, anthropic, or openai")
	serveCmd.Flags().DurationVar(&config.GenerationCeiling, "generation-ceiling", generate.DefaultEmissionCeiling, "Total emission time ceiling for the simulated backend")

	rootCmd.AddCommand(serveCmd)
}

func loadServeConfig(_ *cobra.Command, _ []string) {
	loadFromEnv(&config.AuthTokens, "AUTH_TOKENS")
	loadOptionalFromEnv(&config.DatabaseURL, "DATABASE_URL")
	loadOptionalFromEnv(&config.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	loadOptionalFromEnv(&config.AnthropicModel, "ANTHROPIC_MODEL")
	loadOptionalFromEnv(&config.OpenAIAPIKey, "OPENAI_API_KEY")
	loadOptionalFromEnv(&config.OpenAIModel, "OPENAI_MODEL")
	loadOptionalFromEnv(&config.TelemetryEndpoint, "OTLP_ENDPOINT")
	parseOptionalFromEnv(&config.TelemetryEnabled, "TELEMETRY_ENABLED", func(v string) (bool, error) {
		return v == "true" || v == "1", nil
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        config.TelemetryEnabled,
		Endpoint:       config.TelemetryEndpoint,
		ServiceVersion: versionInfo.version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to shut down telemetry")
		}
	}()

	authenticator, err := auth.ParseStaticTokens(config.AuthTokens)
	if err != nil {
		return fmt.Errorf("failed to parse AUTH_TOKENS: %w", err)
	}

	registry, ledger, err := createStores(logger)
	if err != nil {
		return err
	}

	generator, err := createGenerator(logger)
	if err != nil {
		return err
	}

	sinks := events.NewSinkSet(logger)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()
	sinks.Attach(eventAuditTopic, pubSub)
	if err := runEventAudit(ctx, pubSub, logger); err != nil {
		return err
	}

	svc := chat.NewService(chat.ServiceConfig{
		Registry:  registry,
		Ledger:    ledger,
		Generator: generator,
		Sinks:     sinks,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: server.New(svc, authenticator, logger).Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to shut down server cleanly")
		}
	}()

	logger.Info().
		Str("addr", config.ListenAddr).
		Str("backend", config.Backend).
		Bool("persistent", config.DatabaseURL != "").
		Msg("server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func createStores(logger zerolog.Logger) (chat.Registry, chat.Ledger, error) {
	if config.DatabaseURL == "" {
		logger.Info().Msg("no DATABASE_URL set, using in-memory storage")
		store := memory.New()
		return store, store, nil
	}
	store, err := postgres.Open(config.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, store, nil
}

func createGenerator(logger zerolog.Logger) (generate.Generator, error) {
	switch config.Backend {
	case "simulated":
		return generate.NewSimulated(config.GenerationCeiling), nil

	case "anthropic":
		if config.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic backend")
		}
		model := anthropic.Model(config.AnthropicModel)
		if model == "" {
			model = anthropic.ModelClaudeSonnet4_0
		}
		client := anthropic.NewClient(
			option.WithAPIKey(config.AnthropicAPIKey),
			option.WithHTTPClient(&http.Client{
				Transport: transport.WithRetryAfter(nil, logger),
			}),
			option.WithMaxRetries(5),
		)
		return generate.NewAnthropic(client, model, 4096), nil

	case "openai":
		if config.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
		model := config.OpenAIModel
		if model == "" {
			model = openai.GPT4o
		}
		clientConfig := openai.DefaultConfig(config.OpenAIAPIKey)
		clientConfig.HTTPClient = &http.Client{
			Transport: transport.WithRetryAfter(nil, logger),
		}
		return generate.NewOpenAI(openai.NewClientWithConfig(clientConfig), model), nil

	default:
		return nil, fmt.Errorf("unknown generation backend %q", config.Backend)
	}
}

// runEventAudit logs every stream event published to the sink topic. This is
// the observer side of the event fan-out; it never feeds back into delivery.
func runEventAudit(ctx context.Context, pubSub *gochannel.GoChannel, logger zerolog.Logger) error {
	messages, err := pubSub.Subscribe(ctx, eventAuditTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event audit topic: %w", err)
	}
	go func() {
		for msg := range messages {
			logger.Debug().
				Str("sequence", msg.Metadata.Get("sequence_number")).
				RawJSON("event", msg.Payload).
				Msg("stream event")
			msg.Ack()
		}
	}()
	return nil
}
