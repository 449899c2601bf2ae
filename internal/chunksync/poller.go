package chunksync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// Update is one batch of merged chunks published by a Poller
type Update struct {
	SessionID string                    `json:"session_id"`
	Chunks    []transcription.TextChunk `json:"text_chunks"`
}

// Poller drives a Syncer on a ticker and publishes what each poll merged
type Poller struct {
	syncer   *Syncer
	interval time.Duration
	logger   *slog.Logger

	subscribers map[chan Update]struct{}
	subMu       sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// NewPoller creates a poller; Start launches it
func NewPoller(syncer *Syncer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}

	return &Poller{
		syncer:      syncer,
		interval:    interval,
		logger:      syncer.logger,
		subscribers: make(map[chan Update]struct{}),
		stopped:     make(chan struct{}),
	}
}

// Syncer returns the syncer the poller drives
func (p *Poller) Syncer() *Syncer {
	return p.syncer
}

// Subscribe returns a channel receiving every non-empty update. Slow
// subscribers miss updates rather than stall polling.
func (p *Poller) Subscribe(buffer int) <-chan Update {
	ch := make(chan Update, buffer)

	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()

	return ch
}

// Unsubscribe stops delivery to ch and closes it
func (p *Poller) Unsubscribe(ch <-chan Update) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for sub := range p.subscribers {
		if sub == ch {
			delete(p.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Start runs the polling loop until ctx is cancelled or Stop is called
func (p *Poller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.pollingRoutine()
}

// Stop ends the loop and waits for an in-flight poll to finish. Subscriber
// channels are closed.
func (p *Poller) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			close(p.stopped)
		} else {
			p.cancel()
		}
		<-p.stopped

		p.subMu.Lock()
		for sub := range p.subscribers {
			delete(p.subscribers, sub)
			close(sub)
		}
		p.subMu.Unlock()
	})
}

func (p *Poller) pollingRoutine() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Chunk polling started",
		slog.String("session_id", p.syncer.session.ID),
		slog.Duration("interval", p.interval),
	)

	p.poll()
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info("Chunk polling stopping",
				slog.String("session_id", p.syncer.session.ID),
			)
			return

		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	chunks, err := p.syncer.Poll(p.ctx)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warn("Chunk poll failed",
				slog.String("session_id", p.syncer.session.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if len(chunks) == 0 {
		return
	}

	update := Update{SessionID: p.syncer.session.ID, Chunks: chunks}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for sub := range p.subscribers {
		select {
		case sub <- update:
		default:
			p.logger.Debug("Dropping update for slow subscriber",
				slog.String("session_id", update.SessionID),
			)
		}
	}
}
