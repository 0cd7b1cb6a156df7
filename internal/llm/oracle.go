package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/dompet/internal/common"
)

// Oracle wraps a provider client with rate limiting and retries.
type Oracle struct {
	client      Client
	rateLimiter *rateLimiter
	logger      *slog.Logger
	retryOpts   common.RetryOptions
}

// NewOracle wraps client using the retry and rate settings from cfg.
func NewOracle(client Client, cfg Config, logger *slog.Logger) *Oracle {
	retryOpts := common.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Oracle{
		client:      client,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		logger:      common.OrDefault(logger),
		retryOpts:   retryOpts,
	}
}

// Chat waits for a rate-limit token, then calls the provider with retries.
func (o *Oracle) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := o.rateLimiter.wait(ctx); err != nil {
		return ChatResponse{}, err
	}

	var resp ChatResponse
	start := time.Now()
	err := common.WithRetry(ctx, func() error {
		var chatErr error
		resp, chatErr = o.client.Chat(ctx, req)
		return chatErr
	}, o.retryOpts)
	if err != nil {
		o.logger.Warn("oracle call failed", "error", err, "duration", time.Since(start))
		return ChatResponse{}, err
	}

	o.logger.Debug("oracle call completed",
		"tool_calls", len(resp.ToolCalls),
		"duration", time.Since(start))
	return resp, nil
}

// Close releases the rate limiter.
func (o *Oracle) Close() {
	o.rateLimiter.Close()
}
