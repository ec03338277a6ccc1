// Package notify delivers experiment lifecycle notifications to registered channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hrygo/querylab/plugin/ai/metrics"
)

// Channel names a delivery channel.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Notification is one lifecycle announcement.
type Notification struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sender defines the interface for sending notifications.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
}

type registration struct {
	sender  Sender
	limiter *rate.Limiter
}

// Dispatcher routes notifications to every registered channel. Each channel
// has its own token bucket; notifications over the limit are dropped.
type Dispatcher struct {
	channels map[Channel]*registration
	ratePer  rate.Limit
	burst    int
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewDispatcher creates a dispatcher allowing perSecond notifications per
// channel with a burst of burst. perSecond <= 0 disables limiting.
func NewDispatcher(perSecond float64, burst int) *Dispatcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		channels: make(map[Channel]*registration),
		ratePer:  limit,
		burst:    burst,
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// Register registers a channel sender.
func (d *Dispatcher) Register(channel Channel, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel] = &registration{
		sender:  sender,
		limiter: rate.NewLimiter(d.ratePer, d.burst),
	}
	d.logger.Info("registered notification channel", "channel", channel, "sender", sender.Name())
}

// Notify sends n through all registered channels and returns the delivery
// failures. A rate-limited channel is skipped without error.
func (d *Dispatcher) Notify(ctx context.Context, n *Notification) []error {
	if d == nil {
		return nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	d.mu.RLock()
	names := make([]string, 0, len(d.channels))
	for channel := range d.channels {
		names = append(names, string(channel))
	}
	sort.Strings(names)
	regs := make([]*registration, 0, len(names))
	for _, name := range names {
		regs = append(regs, d.channels[Channel(name)])
	}
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if !reg.limiter.Allow() {
			metrics.RecordNotification(reg.sender.Name(), "throttled")
			d.logger.Warn("notification throttled", "sender", reg.sender.Name(), "event", n.Event)
			continue
		}
		if err := reg.sender.Send(ctx, n); err != nil {
			metrics.RecordNotification(reg.sender.Name(), "failed")
			errs = append(errs, fmt.Errorf("%s: %w", reg.sender.Name(), err))
			continue
		}
		metrics.RecordNotification(reg.sender.Name(), "sent")
	}
	return errs
}

// LogSender writes notifications to the structured log.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, n *Notification) error {
	s.logger.Info(n.Title, "event", n.Event, "notification_id", n.ID, "message", n.Message)
	return nil
}

// Name returns the sender name.
func (s *LogSender) Name() string {
	return "log"
}

// WebhookConfig holds webhook configuration.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookSender posts notifications as JSON.
type WebhookSender struct {
	config     WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookSender creates a new webhook sender.
func NewWebhookSender(config WebhookConfig) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &WebhookSender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: slog.Default(),
	}
}

// Send posts the notification.
func (s *WebhookSender) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.config.Secret != "" {
		req.Header.Set("X-Webhook-Secret", s.config.Secret)
	}
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("webhook request failed", "url", s.config.URL, "error", err)
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("webhook returned error",
			"url", s.config.URL,
			"status", resp.StatusCode,
			"response", string(respBody),
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Debug("webhook notification sent", "notification_id", n.ID, "status", resp.StatusCode)
	return nil
}

// Name returns the sender name.
func (s *WebhookSender) Name() string {
	return "webhook"
}

// MemorySender records notifications in memory for testing.
type MemorySender struct {
	notifications []*Notification
	err           error
	mu            sync.Mutex
}

// NewMemorySender creates a new in-memory sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// SetError makes every following Send fail with err.
func (s *MemorySender) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Send records the notification.
func (s *MemorySender) Send(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := *n
	s.notifications = append(s.notifications, &copied)
	return nil
}

// Name returns the sender name.
func (s *MemorySender) Name() string {
	return "memory"
}

// GetAll returns all notifications (for testing).
func (s *MemorySender) GetAll() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification{}, s.notifications...)
}
