// Package watch binds a viewer to one job stream: it owns a realtime
// Channel and a Reconciler and applies everything on a single goroutine.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/events"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/realtime"
	"github.com/queuesync/queuesync/internal/reconcile"
)

// ErrClosed is returned by Reload after Close.
var ErrClosed = errors.New("subscription closed")

// Loader fetches the authoritative job list for a scope.
type Loader func(ctx context.Context) ([]models.Job, error)

// Opener opens a realtime channel; *realtime.Gateway implements it.
type Opener interface {
	Open(ctx context.Context, scope realtime.Scope) (*realtime.Channel, error)
}

// View is an immutable copy of a Subscription's state.
type View struct {
	Jobs       []models.Job
	Visible    []models.Job
	Realtime   realtime.Kind
	LastReload time.Time
}

// Options configures Start.
type Options struct {
	Scope   realtime.Scope
	Gateway Opener
	Loader  Loader
	// OnChange is called from the Subscription's goroutine after every
	// applied change. It must not call Close.
	OnChange func(View)
	Now      func() time.Time
}

type reload struct {
	jobs    []models.Job
	applied chan struct{}
}

// Subscription owns one Channel and one Reconciler. Nothing it holds is
// shared with other Subscriptions.
type Subscription struct {
	id      string
	scope   realtime.Scope
	loader  Loader
	notify  func(View)
	now     func() time.Time
	rec     *reconcile.Reconciler
	channel *realtime.Channel
	kind    realtime.Kind

	reloads chan reload
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu   sync.RWMutex
	view View
}

// Start loads the scope, opens its realtime channel and begins applying
// events. Failing to open a channel is not an error: the Subscription keeps
// the last known state and can still be reloaded.
func Start(ctx context.Context, opts Options) (*Subscription, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("watch %s: loader is required", opts.Scope)
	}
	s := &Subscription{
		id:      uuid.NewString(),
		scope:   opts.Scope,
		loader:  opts.Loader,
		notify:  opts.OnChange,
		now:     opts.Now,
		rec:     reconcile.New(),
		kind:    realtime.KindNone,
		reloads: make(chan reload),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}

	jobs, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch %s: initial load: %w", s.scope, err)
	}
	s.rec.ApplySnapshot(jobs)

	if opts.Gateway != nil {
		ch, err := opts.Gateway.Open(ctx, s.scope)
		if err != nil {
			log.Warn().Str("subscription", s.id).Str("scope", s.scope.String()).Err(err).Msg("no realtime updates")
		} else {
			s.channel = ch
			s.kind = ch.Kind()
		}
	}

	s.publish()
	go s.loop()
	return s, nil
}

// ID identifies the Subscription in logs.
func (s *Subscription) ID() string { return s.id }

// View returns the latest state.
func (s *Subscription) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Reload fetches the authoritative list and replaces the collection with
// it. The fetch runs on the caller's goroutine; Reload returns once the
// snapshot has been applied.
func (s *Subscription) Reload(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	jobs, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("reload %s: %w", s.scope, err)
	}
	req := reload{jobs: jobs, applied: make(chan struct{})}
	select {
	case s.reloads <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.applied:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load runs the Loader and drops jobs that fail validation, so the
// collection holds the same kind of jobs a snapshot event would carry.
func (s *Subscription) load(ctx context.Context) ([]models.Job, error) {
	jobs, err := s.loader(ctx)
	if err != nil {
		return nil, err
	}
	valid := jobs[:0:0]
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			log.Warn().Str("subscription", s.id).Int64("job_id", j.ID).Err(err).Msg("dropping invalid job from load")
			continue
		}
		valid = append(valid, j)
	}
	return valid, nil
}

// Close tears down the channel and stops the loop. Pending work is
// discarded. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.channel != nil {
			s.channel.Close()
		}
		<-s.stopped
		log.Debug().Str("subscription", s.id).Str("scope", s.scope.String()).Msg("subscription closed")
	})
}

func (s *Subscription) loop() {
	defer close(s.stopped)

	var in <-chan events.Event
	if s.channel != nil {
		in = s.channel.Events()
	}
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-in:
			if !ok {
				in = nil
				s.kind = realtime.KindNone
				log.Info().Str("subscription", s.id).Str("scope", s.scope.String()).Msg("realtime channel ended")
				s.publish()
				continue
			}
			s.rec.Apply(ev)
			s.publish()
		case req := <-s.reloads:
			s.rec.ApplySnapshot(req.jobs)
			s.publish()
			close(req.applied)
		}
	}
}

func (s *Subscription) publish() {
	v := View{
		Jobs:       s.rec.Jobs(),
		Visible:    s.rec.Visible(s.now()),
		Realtime:   s.kind,
		LastReload: s.rec.LastReload(),
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	if s.notify != nil {
		s.notify(v)
	}
}
