package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Delivery defaults. Transient failures get a bounded number of retries
// with a fixed pause; chunks of one message are paced to stay under
// chat-API rate limits.
const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 2 * time.Second
	defaultChunkDelay   = 500 * time.Millisecond
)

// routerEntry holds a running channel and its config fingerprint.
type routerEntry struct {
	channel     Channel
	kind        string
	fingerprint string
}

// Router fans rendered alert text out to every enabled channel. It watches
// the SQLite channels table for changes and creates/closes channels
// accordingly, so channel administration happens through the database
// while the agent keeps running.
//
// Delivery is best effort: a channel that fails does not block the others,
// and a chunk that fails does not stop the remaining chunks.
type Router struct {
	mu        sync.RWMutex
	channels  map[string]*routerEntry
	factories map[string]Factory
	logger    *slog.Logger

	maxAttempts  int
	retryBackoff time.Duration
	chunkDelay   time.Duration

	// sleep is swappable so tests don't wait out real backoffs.
	sleep func(ctx context.Context, d time.Duration)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithMaxAttempts sets the per-chunk delivery attempt bound for transient
// failures. Values below 1 are ignored.
func WithMaxAttempts(n int) RouterOption {
	return func(r *Router) {
		if n >= 1 {
			r.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the fixed pause between delivery attempts.
func WithRetryBackoff(d time.Duration) RouterOption {
	return func(r *Router) { r.retryBackoff = d }
}

// WithChunkDelay sets the fixed pause between consecutive chunks of one
// message on the same channel.
func WithChunkDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.chunkDelay = d }
}

// NewRouter creates a Router. Register kind factories before calling
// Watch or Reload.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		channels:     make(map[string]*routerEntry),
		factories:    make(map[string]Factory),
		logger:       slog.Default(),
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		chunkDelay:   defaultChunkDelay,
		sleep:        sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterKind registers a Factory for a transport kind.
// Must be called before Watch. Example: r.RegisterKind("telegram", TelegramFactory())
func (r *Router) RegisterKind(kind string, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// Set installs a channel directly, bypassing the database. Used by the
// engine for the always-on stdout channel and by tests.
func (r *Router) Set(ch Channel) {
	r.mu.Lock()
	r.channels[ch.Name()] = &routerEntry{channel: ch, kind: ch.Kind()}
	r.mu.Unlock()
}

// Active returns the names of the currently running channels, sorted.
func (r *Router) Active() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DispatchResult records the outcome of delivering one message to one channel.
type DispatchResult struct {
	Channel  string
	Kind     string
	Success  bool
	Chunks   int
	Attempts int
	Err      error
}

// Send delivers text to every active channel and returns one result per
// channel, ordered by channel name. An empty text is dropped. Send never
// returns an error itself; per-channel failures live in the results and
// are logged.
func (r *Router) Send(ctx context.Context, text string) []DispatchResult {
	if text == "" {
		return nil
	}

	r.mu.RLock()
	targets := make([]*routerEntry, 0, len(r.channels))
	for _, entry := range r.channels {
		targets = append(targets, entry)
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].channel.Name() < targets[j].channel.Name()
	})

	results := make([]DispatchResult, 0, len(targets))
	for _, entry := range targets {
		res := r.sendTo(ctx, entry.channel, text)
		if res.Err != nil {
			r.logger.Error("channel delivery failed",
				"channel", res.Channel, "kind", res.Kind,
				"chunks", res.Chunks, "attempts", res.Attempts, "error", res.Err)
		} else {
			r.logger.Debug("channel delivery ok",
				"channel", res.Channel, "kind", res.Kind, "chunks", res.Chunks)
		}
		results = append(results, res)
	}
	return results
}

// sendTo splits text for one channel and delivers every chunk in order.
// A failed chunk is recorded but does not stop the remaining chunks: a
// partial report still beats silence.
func (r *Router) sendTo(ctx context.Context, ch Channel, text string) DispatchResult {
	res := DispatchResult{Channel: ch.Name(), Kind: ch.Kind(), Success: true}

	chunks := Split(text, ch.MaxMessageLength())
	res.Chunks = len(chunks)

	for i, chunk := range chunks {
		if i > 0 && r.chunkDelay > 0 {
			r.sleep(ctx, r.chunkDelay)
		}
		attempts, err := r.sendChunk(ctx, ch, chunk)
		res.Attempts += attempts
		if err != nil {
			res.Success = false
			if res.Err == nil {
				res.Err = err
			}
		}
	}
	return res
}

// sendChunk delivers one chunk, retrying transient failures up to the
// attempt bound with a fixed backoff. Permanent failures and context
// cancellation stop immediately.
func (r *Router) sendChunk(ctx context.Context, ch Channel, chunk string) (int, error) {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, ctx.Err()
		}
		err = ch.SendChunk(ctx, chunk)
		if err == nil {
			return attempt, nil
		}
		if !IsTransient(err) {
			return attempt, err
		}
		if attempt < r.maxAttempts {
			r.logger.Warn("transient send failure, retrying",
				"channel", ch.Name(), "attempt", attempt, "error", err)
			r.sleep(ctx, r.retryBackoff)
		}
	}
	return r.maxAttempts, err
}

// channelRow is an internal representation of a row in the channels table.
type channelRow struct {
	Name    string
	Kind    string
	Enabled bool
	Config  json.RawMessage
}

// fingerprint returns a string that changes when the channel config changes.
func (cr channelRow) fingerprint() string {
	return cr.Kind + "|" + string(cr.Config)
}

// Reload reads the channels table and reconciles the active channel set.
// New enabled channels are started, removed or disabled channels are
// dropped, and channels with changed config are recreated.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT name, kind, enabled, COALESCE(config, '{}') FROM channels`)
	if err != nil {
		return fmt.Errorf("channels: query channels: %w", err)
	}
	defer rows.Close()

	desired := make(map[string]channelRow)
	for rows.Next() {
		var cr channelRow
		var cfgStr string
		var enabled int
		if err := rows.Scan(&cr.Name, &cr.Kind, &enabled, &cfgStr); err != nil {
			return fmt.Errorf("channels: scan channel: %w", err)
		}
		cr.Enabled = enabled == 1
		cr.Config = json.RawMessage(cfgStr)
		desired[cr.Name] = cr
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("channels: rows: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop channels that were removed or disabled, and channels whose
	// config changed so they can be recreated below.
	for name, entry := range r.channels {
		cr, exists := desired[name]
		if !exists || !cr.Enabled || cr.fingerprint() != entry.fingerprint {
			delete(r.channels, name)
			r.logger.Info("channel stopped", "channel", name, "kind", entry.kind)
		}
	}

	// Start new or recreated channels.
	for name, cr := range desired {
		if !cr.Enabled {
			continue
		}
		if _, active := r.channels[name]; active {
			continue
		}

		factory, ok := r.factories[cr.Kind]
		if !ok {
			r.logger.Warn("no factory for kind", "channel", name, "kind", cr.Kind)
			continue
		}

		ch, err := factory(name, cr.Config)
		if err != nil {
			r.logger.Error("channel factory failed",
				"channel", name, "kind", cr.Kind, "error", err)
			continue
		}

		r.channels[name] = &routerEntry{
			channel:     ch,
			kind:        cr.Kind,
			fingerprint: cr.fingerprint(),
		}
		r.logger.Info("channel started", "channel", name, "kind", cr.Kind)
	}

	r.logger.Info("channels reloaded",
		"active", len(r.channels),
		"configured", len(desired))

	return nil
}

// Watch polls PRAGMA data_version on the database at the given interval.
// When the version changes (meaning any write to the channels table or any
// other table in the same database occurred), it triggers a Reload.
//
// data_version is auto-incremented by SQLite on any write — no triggers
// needed.
//
// Watch blocks until ctx is cancelled. Run it in a goroutine:
//
//	go router.Watch(ctx, db, time.Second)
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastVersion int64

	// Initial load.
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("channels: initial reload failed", "error", err)
	}
	db.QueryRow("PRAGMA data_version").Scan(&lastVersion)

	r.logger.Info("channels watcher started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("channels watcher stopped")
			return
		case <-ticker.C:
			var ver int64
			if err := db.QueryRow("PRAGMA data_version").Scan(&ver); err != nil {
				r.logger.Warn("channels: data_version poll failed", "error", err)
				continue
			}
			if ver != lastVersion {
				r.logger.Info("channels: change detected, reloading",
					"old_version", lastVersion, "new_version", ver)
				if err := r.Reload(ctx, db); err != nil {
					r.logger.Error("channels: reload failed", "error", err)
				}
				lastVersion = ver
			}
		}
	}
}

// sleepCtx pauses for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
