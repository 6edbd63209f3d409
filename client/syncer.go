package client

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 5 * time.Second
)

// SyncerOptions configures a Syncer. Zero durations take defaults.
type SyncerOptions struct {
	ProjectID string
	Store     *Store
	Fetcher   Fetcher
	Source    EventSource
	// PollInterval is how long the stream may stay silent before the board
	// is fetched again.
	PollInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Logger       *log.Logger
}

// Syncer keeps a Store current: it applies streamed events, refetches the
// board when the stream is silent, drops or skips a revision, and
// reconnects the stream with capped exponential backoff.
type Syncer struct {
	opts     SyncerOptions
	logger   *log.Entry
	activity chan struct{}
	resync   chan struct{}
}

func NewSyncer(opts SyncerOptions) *Syncer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.MinBackoff)
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Syncer{
		opts:     opts,
		logger:   opts.Logger.WithField("project", opts.ProjectID),
		activity: make(chan struct{}, 1),
		resync:   make(chan struct{}, 1),
	}
}

// Run blocks until ctx ends.
func (s *Syncer) Run(ctx context.Context) error {
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		s.follow(ctx)
	}()

	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			<-streamDone
			return nil
		case <-s.activity:
		case <-s.resync:
			s.refresh(ctx)
		case <-timer.C:
			s.logger.Debug("no board events within poll interval, refetching")
			s.refresh(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.opts.PollInterval)
	}
}

// notify wakes Run without blocking. Repeated signals coalesce.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Syncer) refresh(ctx context.Context) {
	board, err := s.opts.Fetcher.FetchBoard(ctx, s.opts.ProjectID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Warn("board fetch failed")
		}
		return
	}
	if !s.opts.Store.ReplaceFromServer(board) {
		s.logger.WithField("revision", board.Revision).Debug("ignored stale board snapshot")
	}
}

// follow keeps one stream open, reconnecting until ctx ends.
func (s *Syncer) follow(ctx context.Context) {
	backoff := s.opts.MinBackoff
	for {
		opened := false
		err := s.opts.Source.Stream(ctx, s.opts.ProjectID, StreamHandler{
			OnOpen: func() {
				opened = true
				notify(s.resync)
			},
			OnEvent: func(ev domain.Event) {
				s.opts.Store.ApplyRemoteEvent(ev)
				if s.opts.Store.NeedsResync() {
					notify(s.resync)
				} else {
					notify(s.activity)
				}
			},
		})
		if ctx.Err() != nil {
			return
		}
		if opened {
			backoff = s.opts.MinBackoff
		}
		entry := s.logger.WithField("retry_in", backoff.String())
		if err != nil && !errors.Is(err, ErrStreamClosed) {
			entry = entry.WithError(err)
		}
		entry.Warn("board stream disconnected")
		notify(s.resync)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}
