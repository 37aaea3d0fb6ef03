package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one channel's delivery attempt.
type Outcome struct {
	Channel string
	Err     error
}

// Fanout delivers one message to many channels at once. A failing channel
// never stops or cancels the others.
type Fanout struct {
	logger *slog.Logger
	deps   Deps
}

// NewFanout creates a fan-out. A nil httpClient gets a 30 second timeout.
func NewFanout(logger *slog.Logger, httpClient *http.Client) *Fanout {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fanout{
		logger: logger,
		deps: Deps{
			HTTPClient: httpClient,
			Tokens:     NewTokenCache(),
		},
	}
}

// Channels builds a channel for each config. Configs with unknown types are
// logged and skipped.
func (f *Fanout) Channels(configs []ChannelConfig) []Channel {
	channels := make([]Channel, 0, len(configs))
	for _, cfg := range configs {
		ch, err := New(cfg, f.deps)
		if err != nil {
			f.logger.Warn("skipping notification channel", "type", cfg.Type, "error", err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels
}

// Send delivers msg to every enabled channel in configs and waits for all of
// them. Failures are logged, never returned.
func (f *Fanout) Send(ctx context.Context, msg Message, configs []ChannelConfig) {
	for _, o := range f.Dispatch(ctx, msg, f.Channels(configs)) {
		if o.Err != nil {
			f.logger.Error("notification failed", "channel", o.Channel, "error", o.Err)
			continue
		}
		f.logger.Info("notification sent", "channel", o.Channel)
	}
}

// Dispatch sends msg to every enabled channel concurrently and returns one
// Outcome per enabled channel, in input order. Disabled channels are skipped.
func (f *Fanout) Dispatch(ctx context.Context, msg Message, channels []Channel) []Outcome {
	var enabled []Channel
	for _, ch := range channels {
		if ch.IsEnabled() {
			enabled = append(enabled, ch)
		}
	}

	outcomes := make([]Outcome, len(enabled))

	// Plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	for i, ch := range enabled {
		g.Go(func() error {
			outcomes[i] = Outcome{Channel: ch.Name(), Err: sendSafely(ctx, ch, msg)}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func sendSafely(ctx context.Context, ch Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.Send(ctx, msg)
}
