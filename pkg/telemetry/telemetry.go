package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const APIKeyHeader = "DD-API-KEY"

const (
	StatusInfo  = "info"
	StatusWarn  = "warn"
	StatusError = "error"
)

type Config struct {
	// APIKey disables the sink when empty.
	APIKey   string
	Endpoint string        `default:"https://http-intake.logs.datadoghq.com/api/v2/logs"`
	Source   string        `default:"nft-cosigner"`
	Service  string        `default:"nft-cosigner"`
	Env      string        `default:"production"`
	Timeout  time.Duration `default:"5s"`
	Hostname string
}

// Event is one structured log line shipped to the collector.
type Event struct {
	Message string
	Status  string
	Tags    []string
}

type payload struct {
	DDSource string `json:"ddsource"`
	DDTags   string `json:"ddtags"`
	Hostname string `json:"hostname"`
	Service  string `json:"service"`
	Message  string `json:"message"`
	Status   string `json:"status"`
}

// Sink posts events to the log collector without blocking the caller.
type Sink struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewSink fills unset config fields from their defaults. A nil httpClient
// gets a client bounded by Config.Timeout.
func NewSink(cfg *Config, httpClient *http.Client, logger *zap.Logger) (*Sink, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to apply telemetry defaults")
	}
	if cfg.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Hostname = host
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Sink{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Enabled is false when no collector credential is configured.
func (s *Sink) Enabled() bool {
	return s != nil && s.config.APIKey != ""
}

// Log schedules delivery of ev and returns immediately. Delivery failures
// are only logged at debug level.
func (s *Sink) Log(ev Event) {
	if !s.Enabled() {
		return
	}

	body, err := json.Marshal(s.buildPayload(ev))
	if err != nil {
		s.logger.Sugar().Debugw("Failed to encode telemetry event", "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.post(body); err != nil {
			s.logger.Sugar().Debugw("Failed to ship telemetry event", "error", err)
		}
	}()
}

// Close waits for in-flight deliveries or until ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) buildPayload(ev Event) payload {
	status := ev.Status
	if status == "" {
		status = StatusInfo
	}
	tags := append([]string{fmt.Sprintf("env:%s", s.config.Env)}, ev.Tags...)

	return payload{
		DDSource: s.config.Source,
		DDTags:   strings.Join(tags, ","),
		Hostname: s.config.Hostname,
		Service:  s.config.Service,
		Message:  ev.Message,
		Status:   status,
	}
}

func (s *Sink) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
