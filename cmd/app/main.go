package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/notesingest/internal/config"
	"github.com/local/notesingest/internal/fetch"
	"github.com/local/notesingest/internal/filetype"
	"github.com/local/notesingest/internal/httpapi"
	"github.com/local/notesingest/internal/ingest"
	"github.com/local/notesingest/internal/limiter"
	logpkg "github.com/local/notesingest/internal/logger"
	"github.com/local/notesingest/internal/meeting"
	"github.com/local/notesingest/internal/metrics"
	"github.com/local/notesingest/internal/ocr"
	"github.com/local/notesingest/internal/pdf"
	"github.com/local/notesingest/internal/usage"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()
	ctx := context.Background()

	// OCR backend
	gateway, err := newOCR(cfg.OCR)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.OCR.Backend).Msg("failed to init OCR backend")
	}

	pipeline, err := ingest.New(ingest.Options{
		OCR:          gateway,
		PDF:          pdf.NewReader(),
		MaxPDFPages:  cfg.Ingest.MaxPDFPages,
		MinPageChars: cfg.Ingest.MinPageChars,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init ingest pipeline")
	}

	// Usage log
	store, err := usage.Open(ctx, cfg.Usage.DBPath, usage.Costs{
		LLMPer1KTokens: cfg.Usage.LLMCostPer1KTokens,
		OCRPerPage:     cfg.Usage.OCRCostPerPage,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Usage.DBPath).Msg("failed to open usage db")
	}
	defer store.Close()

	// Rate limiter
	lim, err := limiter.New(limiter.Options{
		RedisURL:          cfg.RateLimit.RedisURL,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if c, ok := lim.(interface{ Close() error }); ok {
		defer c.Close()
	}

	// LLM is optional; without it meeting packs use local fallbacks.
	var llm meeting.LLM
	if client, err := meeting.NewOpenAIClient(meeting.OpenAIOptions{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}); err != nil {
		log.Warn().Err(err).Msg("LLM disabled, meeting packs use fallbacks")
	} else {
		llm = client
	}

	// Remote documents
	var s3Client fetch.S3API
	if cfg.S3.Endpoint != "" || cfg.S3.AccessKey != "" {
		c, err := fetch.NewS3Client(ctx, fetch.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
		s3Client = c
	}

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Pipeline:       pipeline,
		Extractor:      meeting.NewExtractor(llm, cfg.LLM.Temperature),
		Usage:          store,
		Limiter:        lim,
		Fetcher:        fetch.New(s3Client, nil, cfg.Ingest.MaxUploadBytes, cfg.Fetch.AllowedHosts),
		Detector:       filetype.New(),
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		Metrics:        metrics.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("port", cfg.HTTP.Port).
			Str("ocr_backend", gateway.Name()).
			Int("max_pdf_pages", pipeline.MaxPDFPages()).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// newOCR builds the configured backend, instrumented and optionally behind a
// circuit breaker.
func newOCR(cfg cfgpkg.OCRConfig) (ocr.Gateway, error) {
	var backend ocr.Gateway
	switch cfg.Backend {
	case "tesseract":
		backend = ocr.NewTesseract(ocr.TesseractOptions{
			Languages: cfg.TesseractLanguages,
			DPI:       cfg.TesseractDPI,
		})
	default:
		az, err := ocr.NewAzure(ocr.AzureOptions{
			Endpoint:     cfg.AzureEndpoint,
			Key:          cfg.AzureKey,
			Model:        cfg.AzureModel,
			APIVersion:   cfg.AzureAPIVersion,
			PollInterval: cfg.AzurePollInterval,
			HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
		})
		if err != nil {
			return nil, err
		}
		backend = az
	}

	if cfg.BreakerEnabled {
		backend = ocr.WithBreaker(backend, ocr.BreakerOptions{
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
			OpenTimeout:         cfg.BreakerTimeout,
		})
	}
	return ocr.WithMetrics(backend), nil
}
