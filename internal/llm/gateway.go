// Package llm streams chat completions from an Ollama backend that can only
// serve one generation at a time.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"docchat/internal/logger"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrGatewayTimeout   = errors.New("completion gateway admission timed out")
	ErrCompletionStream = errors.New("completion stream failed")
	ErrGatewayClosed    = errors.New("completion gateway closed")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages []Message
	Model    string
	// AdmissionTimeout overrides the configured wait for the slot when > 0.
	AdmissionTimeout time.Duration
}

type Config struct {
	BaseURL          string
	DefaultModel     string
	AllowedModels    []string
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxConnections   int
	AdmissionTimeout time.Duration
}

type Gateway struct {
	cfg       Config
	allowed   map[string]struct{}
	transport *http.Transport
	client    *http.Client
	gate      *Gate
	breaker   *gobreaker.CircuitBreaker
	log       *slog.Logger
	closed    atomic.Bool
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithGate shares an admission gate between gateways.
func WithGate(gate *Gate) Option {
	return func(g *Gateway) { g.gate = gate }
}

func New(cfg Config, opts ...Option) *Gateway {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 2
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &Gateway{
		cfg:     cfg,
		allowed: make(map[string]struct{}, len(cfg.AllowedModels)+1),
	}
	for _, m := range cfg.AllowedModels {
		g.allowed[m] = struct{}{}
	}
	g.allowed[cfg.DefaultModel] = struct{}{}

	for _, opt := range opts {
		opt(g)
	}
	g.log = logger.OrDefault(g.log)
	if g.gate == nil {
		g.gate = NewGate()
	}

	g.transport = newTransport(cfg)
	g.client = &http.Client{Transport: g.transport}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ollama-chat",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || errors.As(err, &se) && se.code < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// ResolveModel returns model when it is allowed and the default otherwise.
func (g *Gateway) ResolveModel(model string) string {
	if model == "" {
		return g.cfg.DefaultModel
	}
	if _, ok := g.allowed[model]; ok {
		return model
	}
	g.log.Warn("model not allowed, using default", "requested", model, "default", g.cfg.DefaultModel)
	return g.cfg.DefaultModel
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("backend returned status %d", e.code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.code, e.body)
}

// Stream waits for the admission slot, sends the chat request and returns the
// open fragment stream. The slot is held until the stream finishes, fails, or
// is closed.
func (g *Gateway) Stream(ctx context.Context, req Request) (*Stream, error) {
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}

	model := g.ResolveModel(req.Model)
	payload, err := json.Marshal(chatRequest{Model: model, Messages: req.Messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request failed: %w", err)
	}

	timeout := req.AdmissionTimeout
	if timeout <= 0 {
		timeout = g.cfg.AdmissionTimeout
	}
	waitStarted := time.Now()
	release, err := g.gate.Acquire(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrGatewayTimeout) {
			g.log.Warn("completion admission timed out", "model", model, "waited", time.Since(waitStarted))
		}
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.open(reqCtx, payload)
	})
	if err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("%w: %w", ErrCompletionStream, err)
	}

	g.log.Debug("completion stream opened", "model", model, "messages", len(req.Messages))
	return newStream(result.(*http.Response).Body, cancel, release, g.log), nil
}

func (g *Gateway) open(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call chat endpoint failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels returns the model names the backend has pulled. It does not
// take the admission slot.
func (g *Gateway) ListModels(ctx context.Context) ([]string, error) {
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request failed: %w", err)
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call tags endpoint failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags response failed: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

func (g *Gateway) DefaultModel() string { return g.cfg.DefaultModel }

// Shutdown closes pooled connections. Later calls to Stream and ListModels
// fail with ErrGatewayClosed.
func (g *Gateway) Shutdown() {
	if g.closed.Swap(true) {
		return
	}
	g.transport.CloseIdleConnections()
}
