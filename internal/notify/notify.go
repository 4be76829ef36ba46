package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

// Notifier is the interface for sending sync run notifications.
type Notifier interface {
	SendSuccess(ctx context.Context, result *cmssync.RunResult) error
	SendFailure(ctx context.Context, result *cmssync.RunResult, err error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// message is one ntfy publish request.
type message struct {
	Title    string
	Body     string
	Priority string
	Tags     []string
}

// SendSuccess reports a finished run. Runs with nothing new are skipped when
// OnlyChanges is set.
func (c *Client) SendSuccess(ctx context.Context, result *cmssync.RunResult) error {
	if !c.config.Enabled {
		return nil
	}
	changed := result.ChangedCount()
	if c.config.OnlyChanges && changed == 0 {
		c.logger.Debug("skipping notification for unchanged run", zap.String("run_id", result.RunID))
		return nil
	}

	return c.publish(ctx, message{
		Title:    fmt.Sprintf("Sync Complete: %d of %d languages changed", changed, len(result.Languages)),
		Body:     FormatSuccessMessage(result),
		Priority: c.config.Priority,
		Tags:     append(slices.Clone(c.config.Tags), "white_check_mark"),
	})
}

// SendFailure reports a failed run. result may be nil.
func (c *Client) SendFailure(ctx context.Context, result *cmssync.RunResult, err error) error {
	if !c.config.Enabled {
		return nil
	}

	msg := message{
		Title:    "Sync Failed",
		Body:     FormatFailureMessage(result, err),
		Priority: c.config.FailurePriority,
		Tags:     append(slices.Clone(c.config.Tags), "x"),
	}
	if msg.Priority == "" {
		msg.Priority = "high"
	}
	if result != nil && result.Failed != "" {
		msg.Title += ": " + result.Failed
	}
	return c.publish(ctx, msg)
}

func (c *Client) publish(ctx context.Context, msg message) error {
	endpoint, err := url.JoinPath(c.config.Server, c.config.Topic)
	if err != nil {
		return fmt.Errorf("building ntfy url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range map[string]string{
		"Title":    msg.Title,
		"Priority": msg.Priority,
		"Tags":     strings.Join(msg.Tags, ","),
		"Click":    c.config.Click,
	} {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publishing to ntfy: %w", err)
	}
	defer resp.Body.Close()

	// ntfy explains rejections in a short JSON body
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 300 {
		c.logger.Warn("ntfy rejected notification",
			zap.Int("status", resp.StatusCode),
			zap.String("topic", c.config.Topic),
			zap.ByteString("response", detail),
		)
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	c.logger.Debug("notification sent", zap.String("title", msg.Title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendSuccess is a no-op.
func (n *NoopNotifier) SendSuccess(_ context.Context, _ *cmssync.RunResult) error {
	return nil
}

// SendFailure is a no-op.
func (n *NoopNotifier) SendFailure(_ context.Context, _ *cmssync.RunResult, _ error) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
