package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/rediaas/firebase-rest/pkg/rtdb"
	"github.com/rediaas/firebase-rest/pkg/rtdb/client"
)

// EventSink receives the put events that the watcher picks up from its
// streams.
type EventSink interface {
	StorePut(ctx context.Context, target string, data map[string]any) error
}

type Watcher interface {
	Start() error
	Stop() error

	Status() []TargetStatus
}

type TargetStatus struct {
	Name       string `json:"name"`
	Puts       int64  `json:"puts"`
	KeepAlives int64  `json:"keepAlives"`
}

// ReconnectInterval controls how long the watcher waits before re-opening a
// dropped stream. Reconnection is a policy of this service, not of the client.
func ReconnectInterval(interval time.Duration) func(*watcher) {
	return func(w *watcher) {
		w.reconnectInterval = interval
	}
}

func New(ctx context.Context, host string, cfg *Config, sink EventSink, options ...func(*watcher)) Watcher {
	w := &watcher{
		ctx:               ctx,
		host:              host,
		sink:              sink,
		reconnectInterval: 5 * time.Second,
	}

	for _, target := range cfg.Targets {
		w.targets = append(w.targets, &targetRuntime{WatchTarget: target})
	}

	for _, option := range options {
		option(w)
	}

	return w
}

type targetRuntime struct {
	WatchTarget

	puts       atomic.Int64
	keepAlives atomic.Int64
}

type watcher struct {
	ctx               context.Context
	host              string
	sink              EventSink
	targets           []*targetRuntime
	reconnectInterval time.Duration

	started bool
	cancel  context.CancelFunc
}

func (w *watcher) Start() error {
	if w.started {
		return fmt.Errorf("already started")
	}

	w.started = true

	ctx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel

	for _, target := range w.targets {
		go w.watch(ctx, target)
	}

	return nil
}

func (w *watcher) Stop() error {
	if w.started {
		w.cancel()
		w.started = false
	}

	return nil
}

func (w *watcher) Status() []TargetStatus {
	statuses := make([]TargetStatus, 0, len(w.targets))

	for _, target := range w.targets {
		statuses = append(statuses, TargetStatus{
			Name:       target.Name,
			Puts:       target.puts.Load(),
			KeepAlives: target.keepAlives.Load(),
		})
	}

	return statuses
}

func (w *watcher) watch(ctx context.Context, target *targetRuntime) {
	logger := logging.GetFromContext(ctx).With("target", target.Name)

	c := client.New(w.host, "", target.Path)

	for ctx.Err() == nil {
		stream, err := c.Listen(ctx, target.Query)
		if err != nil {
			logger.Error("failed to open stream", "err", err.Error())
		} else {
			for event := range stream.Events() {
				w.handleEvent(ctx, logger, target, event)
			}

			stream.Close()

			if ctx.Err() != nil {
				return
			}

			logger.Info("stream ended, reconnecting")
		}

		select {
		case <-time.After(w.reconnectInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (w *watcher) handleEvent(ctx context.Context, logger *slog.Logger, target *targetRuntime, event rtdb.Event) {
	switch event.Type {
	case rtdb.EventTypeKeepAlive:
		target.keepAlives.Add(1)
	case rtdb.EventTypePut:
		target.puts.Add(1)

		if w.sink != nil {
			err := w.sink.StorePut(ctx, target.Name, event.Put)
			if err != nil {
				logger.Error("failed to store put event", "err", err.Error())
			}
		}
	}
}
