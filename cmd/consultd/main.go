package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CHris23132/voice-consult-service/internal/audio"
	"github.com/CHris23132/voice-consult-service/internal/config"
	"github.com/CHris23132/voice-consult-service/internal/extraction"
	"github.com/CHris23132/voice-consult-service/internal/interview"
	"github.com/CHris23132/voice-consult-service/internal/metrics"
	"github.com/CHris23132/voice-consult-service/internal/playback"
	"github.com/CHris23132/voice-consult-service/internal/server"
	"github.com/CHris23132/voice-consult-service/internal/store"
	"github.com/CHris23132/voice-consult-service/internal/synthesis"
	"github.com/CHris23132/voice-consult-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-consult-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	userID := flag.String("user", "", "User identifier stored on the consultation record")
	approve := flag.Bool("approve", false, "Skip the microphone permission prompt")
	flag.Parse()

	// Load secrets from .env if present; missing file is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("silence_timeout", cfg.Audio.GetSilenceTimeout()),
		slog.Duration("max_capture_duration", cfg.Audio.GetMaxCaptureDuration()),
		slog.String("synthesis_endpoint", cfg.Synthesis.Endpoint),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("extraction_endpoint", cfg.Extraction.Endpoint),
		slog.String("storage_path", cfg.Storage.Path),
		slog.Int("total_questions", len(cfg.Interview.Questions)),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Open the consultation record store
	recordStore, err := store.OpenSQLite(cfg.Storage.Path, cfg.Storage.Collection, logger)
	if err != nil {
		logger.Error("Failed to open record store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer recordStore.Close()

	// Initialize backend clients
	synthesisClient, err := synthesis.NewClient(synthesis.Config{
		Endpoint: cfg.Synthesis.Endpoint,
		APIKey:   cfg.Synthesis.APIKey,
		Model:    cfg.Synthesis.Model,
		Voice:    cfg.Synthesis.Voice,
		Format:   cfg.Synthesis.Format,
		Timeout:  cfg.Synthesis.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriptionClient, err := transcription.NewClient(transcription.Config{
		Endpoint:        cfg.Transcription.Endpoint,
		APIKey:          cfg.Transcription.APIKey,
		Model:           cfg.Transcription.Model,
		Language:        cfg.Transcription.Language,
		Timeout:         cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:      cfg.Transcription.MaxRetries,
		MaxConcurrent:   cfg.Transcription.MaxConcurrent,
		MaxPayloadBytes: cfg.Transcription.MaxPayloadBytes,
	}, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer transcriptionClient.Close()

	extractionClient, err := extraction.NewClient(extraction.Config{
		Endpoint:    cfg.Extraction.Endpoint,
		APIKey:      cfg.Extraction.APIKey,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		MaxTokens:   cfg.Extraction.MaxTokens,
		Timeout:     cfg.Extraction.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create extraction client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize capture: the tone device stands in for a hardware
	// microphone so the service runs on machines without audio input
	device := audio.NewToneDevice(cfg.Audio.SampleRate, 440.0)
	recorder := audio.NewRecorder(device, audio.CaptureConfig{
		SampleRate:         cfg.Audio.SampleRate,
		ChunkSize:          cfg.Audio.ChunkSize,
		SilenceTimeout:     cfg.Audio.GetSilenceTimeout(),
		MaxCaptureDuration: cfg.Audio.GetMaxCaptureDuration(),
	}, logger)

	// Initialize playback through an external player
	playerCommand := cfg.Playback.Command
	playerArgs := cfg.Playback.Args
	if playerCommand == "" {
		playerCommand = "ffplay"
		playerArgs = []string{"-autoexit", "-nodisp", "-loglevel", "quiet", "-i", "pipe:0"}
	}
	output := playback.NewCommandOutput(playerCommand, playerArgs, logger)
	player := playback.NewController(synthesisClient, output, logger)

	// Assemble the interview pipeline and orchestrator
	extractor := extraction.NewExtractor(extractionClient, logger)
	pipeline := interview.NewAnswerPipeline(transcriptionClient, extractor, recordStore, logger, appMetrics)

	questions := make([]interview.Question, len(cfg.Interview.Questions))
	for i, q := range cfg.Interview.Questions {
		questions[i] = interview.Question{
			Index:    i,
			Text:     q.Text,
			FieldKey: q.FieldKey,
		}
	}

	var permission interview.PermissionChecker
	if *approve {
		permission = grantedPermission{}
	} else {
		permission = &promptPermission{logger: logger}
	}

	orchestrator := interview.NewOrchestrator(interview.Config{
		Questions:         questions,
		CompletionMessage: cfg.Interview.CompletionMessage,
		UserID:            *userID,
	}, player, recorderFactory{recorder: recorder}, pipeline, permission, logger, appMetrics)

	orchestrator.AddObserver(func(snapshot interview.Snapshot) {
		appMetrics.SetCurrentQuestion(snapshot.QuestionIndex)
	})

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, orchestrator,
			synthesisClient, transcriptionClient, extractionClient,
			appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Run the interview
	interviewStart := time.Now()
	appMetrics.RecordInterviewStarted()
	runDone := make(chan error, 1)
	go func() {
		runDone <- orchestrator.Start(ctx)
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		orchestrator.Abort()
		<-runDone
		appMetrics.RecordInterviewAborted()
	case err := <-runDone:
		if err != nil {
			logger.Error("Interview run failed", slog.String("error", err.Error()))
		}
		switch orchestrator.Snapshot().State {
		case interview.StateCompleted:
			appMetrics.RecordInterviewCompleted(time.Since(interviewStart))
		case interview.StateAborted:
			appMetrics.RecordInterviewAborted()
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Log final statistics
	transcriptionStats := transcriptionClient.GetStats()
	synthesisStats := synthesisClient.GetStats()
	logger.Info("Final client statistics",
		slog.Uint64("transcription_requests", transcriptionStats.TotalRequests),
		slog.Uint64("transcription_successful", transcriptionStats.SuccessRequests),
		slog.Uint64("synthesis_requests", synthesisStats.TotalRequests),
		slog.Int("answered_questions", len(orchestrator.Answers())),
	)

	logger.Info("Service stopped")
}

// recorderFactory adapts the audio recorder to the orchestrator's session
// factory interface.
type recorderFactory struct {
	recorder *audio.Recorder
}

func (f recorderFactory) Begin() (interview.CaptureSession, error) {
	session, err := f.recorder.Begin()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// grantedPermission approves microphone access without asking.
type grantedPermission struct{}

func (grantedPermission) Confirm(ctx context.Context) error {
	return nil
}

// promptPermission asks on the terminal before the first capture.
type promptPermission struct {
	logger *slog.Logger
}

func (p *promptPermission) Confirm(ctx context.Context) error {
	fmt.Print("Allow microphone capture for this consultation? [y/N]: ")

	answered := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answered <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case answer := <-answered:
		if answer != "y" && answer != "yes" {
			return fmt.Errorf("permission denied by user")
		}
		p.logger.Info("Microphone permission granted")
		return nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
