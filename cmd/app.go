package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"meetsync/internal/api"
	"meetsync/internal/backoff"
	"meetsync/internal/chatsync"
	"meetsync/internal/config"
	"meetsync/internal/models"
	"meetsync/internal/rabbitmq"
	"meetsync/internal/session"
	"meetsync/internal/storage"
	"meetsync/internal/telemetry"
	"meetsync/internal/transport"
)

// app bundles what every client command needs.
type app struct {
	local     storage.Store
	session   *session.Session
	registry  *backoff.Registry
	backend   *api.Backend
	publisher rabbitmq.Publisher
}

func openStore(ctx context.Context, c config.StorageConfig) (storage.Store, error) {
	switch c.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "redis":
		r := storage.NewRedis(storage.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
		})
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("redis %s: %w", c.RedisAddr, err)
		}
		return r, nil
	default:
		return storage.OpenPebble(c.Dir)
	}
}

func newApp(ctx context.Context) (*app, error) {
	local, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sess := session.New(local, storage.NewMemory())
	registry := backoff.NewRegistry(nil)
	client := transport.NewClient(cfg.API.BaseURL, transport.TokenFunc(sess.BearerToken), registry,
		transport.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}))

	return &app{
		local:     local,
		session:   sess,
		registry:  registry,
		backend:   api.NewBackend(client, cfg.API.Pagination, cfg.API.VideoTokenPaths),
		publisher: rabbitmq.NewPublisher(cfg.Telemetry.AMQPURL, cfg.Telemetry.Exchange),
	}, nil
}

func (a *app) Close() {
	_ = a.publisher.Close()
	_ = a.local.Close()
}

// me returns the logged-in user id, or a "please log in" error.
func (a *app) me(ctx context.Context) (string, error) {
	id, err := a.session.Me(ctx)
	if err != nil {
		return "", errLoggedOut
	}
	return id, nil
}

// engine builds a sync engine whose outbox survives restarts in local storage.
func (a *app) engine(ctx context.Context, me string, onUnread chatsync.UnreadFunc) (*chatsync.Engine, error) {
	delivery := telemetry.NewDeliveryEmitter(a.publisher, cfg.Telemetry.Service, cfg.Telemetry.Environment, me)
	e := chatsync.NewEngine(a.backend, a.registry, me, chatsync.EngineConfig{
		Group: chatsync.PollerConfig{
			Interval:  cfg.Sync.GroupInterval,
			Window:    cfg.Sync.Window,
			MarkBatch: cfg.Sync.MarkBatch,
		},
		Direct: chatsync.PollerConfig{
			Interval:  cfg.Sync.DirectInterval,
			Window:    cfg.Sync.Window,
			MarkBatch: cfg.Sync.MarkBatch,
		},
		OnUnread: onUnread,
	}, chatsync.WithObserver(delivery), chatsync.WithStore(a.local))

	if _, err := e.Outbox.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore outbox: %w", err)
	}
	return e, nil
}

var errLoggedOut = errors.New("not logged in, run `meetsync login` first")

// describe maps transport failures to what the user should do about them.
func describe(err error) error {
	if te, ok := transport.AsThrottle(err); ok {
		return fmt.Errorf("backend is throttling %s requests, retry %s", te.Class, humanize.Time(te.Until))
	}
	if transport.IsAuth(err) {
		return fmt.Errorf("%w (session expired, please log in)", err)
	}
	return err
}

func formatMessage(m models.Message, me string) string {
	who := m.SenderID
	if who == me {
		who = "you"
	}
	var flag string
	switch m.State {
	case models.StatePending:
		flag = " (sending)"
	case models.StateFailed:
		flag = " (failed, /retry " + m.TempID + ")"
	}
	if !m.IsRead && m.SenderID != me {
		flag += " *"
	}
	when := "now"
	if !m.CreatedAt.IsZero() {
		when = humanize.Time(m.CreatedAt)
	}
	return fmt.Sprintf("[%s] %s: %s%s", when, who, strings.TrimSpace(m.Body), flag)
}

// printer decides which timeline entries are worth printing: new messages and
// messages whose delivery state changed. A message is tracked under both its temp id
// and its server id so the confirmed copy is not printed twice.
type printer struct {
	mu   sync.Mutex
	me   string
	seen map[string]models.DeliveryState
}

func newPrinter(me string) *printer {
	return &printer{me: me, seen: make(map[string]models.DeliveryState)}
}

func (p *printer) lines(ref models.ConversationRef, msgs []models.Message) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range msgs {
		keys := make([]string, 0, 2)
		for _, id := range []string{m.TempID, m.ID} {
			if id != "" {
				keys = append(keys, ref.String()+"/"+id)
			}
		}
		known := false
		for _, k := range keys {
			if st, ok := p.seen[k]; ok {
				known = st == m.State
				if known {
					break
				}
			}
		}
		for _, k := range keys {
			p.seen[k] = m.State
		}
		if !known {
			out = append(out, formatMessage(m, p.me))
		}
	}
	return out
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := cfg.API.Timeout
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(ctx, 4*d)
}
