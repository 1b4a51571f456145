package chatsync

import (
	"context"

	"meetsync/internal/backoff"
	"meetsync/internal/models"
)

// Backend is everything the engine needs from the server.
type Backend interface {
	Sender
	Fetcher
}

// EngineConfig holds per-kind poller settings.
type EngineConfig struct {
	Group    PollerConfig
	Direct   PollerConfig
	OnUnread UnreadFunc
}

// Engine wires one timeline, outbox and poller scheduler around a shared registry.
type Engine struct {
	Timeline  *Timeline
	Outbox    *Outbox
	Scheduler *Scheduler
	Focus     *Focus
	Registry  *backoff.Registry
}

// NewEngine builds an Engine for user me.
func NewEngine(b Backend, registry *backoff.Registry, me string, cfg EngineConfig, opts ...OutboxOption) *Engine {
	e := &Engine{
		Timeline: NewTimeline(),
		Focus:    &Focus{},
		Registry: registry,
	}
	e.Outbox = NewOutbox(b, e.Timeline, registry, me, opts...)
	e.Scheduler = NewScheduler(func(ref models.ConversationRef) *Poller {
		pc := cfg.Direct
		if ref.Kind == models.KindGroup {
			pc = cfg.Group
		}
		p := NewPoller(ref, pc, b, e.Timeline, registry, e.Focus, me)
		p.OnUnread(cfg.OnUnread)
		return p
	})
	return e
}

// Open makes ref the visible conversation and starts polling it.
func (e *Engine) Open(ctx context.Context, ref models.ConversationRef) {
	e.Focus.SetVisible(ref)
	e.Scheduler.Watch(ctx, ref)
}

// Run drives the outbox until ctx ends, then stops all pollers.
func (e *Engine) Run(ctx context.Context) {
	e.Outbox.Run(ctx)
	e.Scheduler.StopAll()
}
