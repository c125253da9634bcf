package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"charactercam/server/internal/domain"
)

// Generation is the client-side view of one generation row.
type Generation struct {
	ID            string        `json:"id"`
	Status        domain.Status `json:"status"`
	CharacterName string        `json:"character_name"`
	ResultURL     string        `json:"result_url,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// Client fetches and mutates the authenticated owner's generation list.
type Client interface {
	ListGenerations(ctx context.Context) ([]Generation, error)
	DeleteGeneration(ctx context.Context, id string) error
}

// Notifier raises local completion notifications. EnsurePermission is
// called lazily, exactly once, when a non-terminal generation first
// appears; an error from it disables notifications for this poller.
type Notifier interface {
	EnsurePermission(ctx context.Context) error
	Notify(ctx context.Context, g Generation)
}

// Options configures a Poller.
type Options struct {
	Client   Client
	Notifier Notifier
	Interval time.Duration
	Logger   zerolog.Logger

	// Ticks overrides the internal ticker; tests drive refreshes through
	// it deterministically.
	Ticks <-chan time.Time
}

// Poller observes the owner's generations by periodic refetching: a fixed
// interval while any row is non-terminal, plus explicit pokes on focus
// events. It diffs statuses between fetches and raises exactly one
// notification per completion, and supports optimistic local deletes that
// survive until the server confirms them.
type Poller struct {
	client   Client
	notifier Notifier
	interval time.Duration
	logger   zerolog.Logger
	ticks    <-chan time.Time

	poke chan struct{}

	mu              sync.Mutex
	rows            []Generation
	prev            map[string]domain.Status
	pendingDeletes  map[string]struct{}
	permissionAsked bool
	permissionOK    bool
	hasNonTerminal  bool
}

func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		client:         opts.Client,
		notifier:       opts.Notifier,
		interval:       interval,
		logger:         opts.Logger,
		ticks:          opts.Ticks,
		poke:           make(chan struct{}, 1),
		prev:           make(map[string]domain.Status),
		pendingDeletes: make(map[string]struct{}),
	}
}

// Run fetches once immediately, then refreshes on ticks and pokes until
// the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("poller: initial fetch failed")
	}

	ticks := p.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(p.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			// Interval refetch only matters while something can still
			// change; a quiet list waits for the next poke.
			if !p.HasNonTerminal() {
				continue
			}
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("poller: refresh failed")
			}
		case <-p.poke:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("poller: refresh failed")
			}
		}
	}
}

// Poke requests an immediate refresh, coalescing bursts. Wire it to
// window-focus events.
func (p *Poller) Poke() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

// Delete removes the generation locally right away, suppresses any future
// notification for it, and issues the server delete in the background of
// the caller's context.
func (p *Poller) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	p.pendingDeletes[id] = struct{}{}
	kept := p.rows[:0]
	for _, g := range p.rows {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	p.rows = kept
	delete(p.prev, id)
	p.recalcNonTerminalLocked()
	p.mu.Unlock()

	if err := p.client.DeleteGeneration(ctx, id); err != nil {
		p.logger.Warn().Err(err).Str("generation_id", id).Msg("poller: server delete failed")
		return err
	}
	return nil
}

// Generations returns a copy of the current local list.
func (p *Poller) Generations() []Generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Generation, len(p.rows))
	copy(out, p.rows)
	return out
}

// HasNonTerminal reports whether any visible generation is still running.
func (p *Poller) HasNonTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasNonTerminal
}

// Refresh fetches the authoritative list, reconciles pending deletes,
// fires completion notifications and updates the local snapshot.
func (p *Poller) Refresh(ctx context.Context) error {
	fetched, err := p.client.ListGenerations(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()

	// Drop ids the user already deleted locally; once the server stops
	// returning an id its pending-delete marker has done its job.
	seen := make(map[string]struct{}, len(fetched))
	rows := fetched[:0]
	for _, g := range fetched {
		seen[g.ID] = struct{}{}
		if _, deleted := p.pendingDeletes[g.ID]; deleted {
			continue
		}
		rows = append(rows, g)
	}
	for id := range p.pendingDeletes {
		if _, still := seen[id]; !still {
			delete(p.pendingDeletes, id)
		}
	}

	var completed []Generation
	next := make(map[string]domain.Status, len(rows))
	for _, g := range rows {
		next[g.ID] = g.Status
		prev, known := p.prev[g.ID]
		if known && prev != domain.StatusCompleted && g.Status == domain.StatusCompleted {
			completed = append(completed, g)
		}
	}
	p.rows = rows
	p.prev = next
	p.recalcNonTerminalLocked()

	askPermission := p.hasNonTerminal && !p.permissionAsked
	if askPermission {
		p.permissionAsked = true
	}
	permitted := p.permissionOK
	p.mu.Unlock()

	if askPermission && p.notifier != nil {
		if err := p.notifier.EnsurePermission(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("poller: notification permission denied")
		} else {
			p.mu.Lock()
			p.permissionOK = true
			permitted = true
			p.mu.Unlock()
		}
	}

	if p.notifier != nil && permitted {
		for _, g := range completed {
			p.notifier.Notify(ctx, g)
		}
	}
	return nil
}

func (p *Poller) recalcNonTerminalLocked() {
	p.hasNonTerminal = false
	for _, g := range p.rows {
		if !g.Status.Terminal() {
			p.hasNonTerminal = true
			return
		}
	}
}
