package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/audio"
	"github.com/skypro1111/asr-session-client/internal/chunksync"
	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
	"github.com/skypro1111/asr-session-client/internal/vad"
)

// Service is the transcription client surface the manager drives
type Service interface {
	chunksync.Service
	audio.Submitter
	CreateSession(ctx context.Context, session transcription.Session) (string, error)
	EndSession(ctx context.Context, session transcription.Session) (string, error)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	PollInterval     time.Duration
	Chunking         audio.ChunkingConfig
	Uploader         audio.UploaderConfig
	SilenceThreshold float32
	VADWindow        time.Duration

	// EndOnStop ends the active session on the service when the manager stops
	EndOnStop bool

	// Recorder, when set, keeps a copy of all audio written across sessions
	Recorder *audio.Recorder
}

// Manager owns the active session and the workers bound to it
type Manager struct {
	service Service
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	active  *Active
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex

	subscribers map[chan chunksync.Update]struct{}
	subMu       sync.Mutex
	forwarders  sync.WaitGroup
}

// Active groups one session with its workers
type Active struct {
	Session   transcription.Session
	StartTime time.Time

	syncer   *chunksync.Syncer
	poller   *chunksync.Poller
	chunker  *audio.Chunker
	uploader *audio.Uploader
	gate     *vad.Processor
}

// Info represents session information for monitoring and APIs
type Info struct {
	SessionID string              `json:"session_id"`
	Language  string              `json:"language"`
	StartTime time.Time           `json:"start_time"`
	Duration  time.Duration       `json:"duration"`
	Chunks    int                 `json:"text_chunks"`
	Chunker   audio.ChunkerStats  `json:"chunker"`
	Uploader  audio.UploaderStats `json:"uploader"`
	VAD       *vad.ProcessorStats `json:"vad,omitempty"`
}

// NewManager creates a manager for session. Workers start with Start.
func NewManager(service Service, session transcription.Session, config ManagerConfig,
	logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {

	if err := session.Validate(); err != nil {
		return nil, err
	}

	if err := config.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking configuration: %w", err)
	}

	if config.VADWindow <= 0 {
		config.VADWindow = 30 * time.Millisecond
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mgr := &Manager{
		service:     service,
		config:      config,
		logger:      logger,
		metrics:     m,
		subscribers: make(map[chan chunksync.Update]struct{}),
	}

	active, err := mgr.newActive(session)
	if err != nil {
		return nil, err
	}
	mgr.active = active

	return mgr, nil
}

// Start opens the session on the service and launches its workers.
// A session the service already knows is joined as is.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("session manager already running")
	}
	if m.stopped {
		return fmt.Errorf("session manager stopped")
	}

	if err := m.open(ctx, m.active.Session); err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.startWorkers(m.active)
	m.running = true

	return nil
}

// Switch replaces the active session with next. The old session's poller
// is stopped and its queued audio is sent before any worker of next starts.
// next is opened on the service before the lock is taken, so audio keeps
// flowing to the old session meanwhile.
func (m *Manager) Switch(ctx context.Context, next transcription.Session) error {
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	current, running := m.active.Session, m.running
	m.mu.RUnlock()

	if next == current {
		return nil
	}

	opened := false
	if running {
		if err := m.open(ctx, next); err != nil {
			return err
		}
		opened = true
	}

	active, err := m.newActive(next)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return fmt.Errorf("session manager stopped")
	}
	if next == m.active.Session {
		return nil
	}

	if !m.running {
		m.active = active
		return nil
	}

	// Started while next was being opened
	if !opened {
		if err := m.open(ctx, next); err != nil {
			return err
		}
	}

	previous := m.active
	m.stopWorkers(previous)
	m.active = active
	m.startWorkers(active)

	m.metrics.RecordSessionSwitch()
	m.logger.Info("Switched active session",
		slog.String("previous_session_id", previous.Session.ID),
		slog.String("previous_language", previous.Session.Language),
		slog.String("session_id", next.ID),
		slog.String("language", next.Language),
		slog.Duration("previous_duration", time.Since(previous.StartTime)),
	)

	return nil
}

// Session returns the active session
func (m *Manager) Session() transcription.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Session
}

// Syncer returns the syncer of the active session
func (m *Manager) Syncer() *chunksync.Syncer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.syncer
}

// Store returns the transcript of the active session
func (m *Manager) Store() *chunksync.Store {
	return m.Syncer().Store()
}

// Poll runs one synchronization round on the active session outside the
// polling schedule
func (m *Manager) Poll(ctx context.Context) ([]transcription.TextChunk, error) {
	return m.Syncer().Poll(ctx)
}

// WriteAudio feeds samples of the active session's recording. Completed
// chunks are queued for upload.
func (m *Manager) WriteAudio(samples []float32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.config.Recorder.Write(samples)

	queued := 0
	for _, chunk := range m.active.chunker.Write(samples) {
		if m.active.uploader.Enqueue(chunk) {
			queued++
		}
	}
	return queued
}

// FlushAudio queues the partial chunk still held by the chunker
func (m *Manager) FlushAudio() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flush(m.active)
}

// Subscribe returns a channel receiving merged transcript updates of
// whichever session is active. It is closed when the manager stops.
// Once the manager has stopped the channel comes back closed.
func (m *Manager) Subscribe(buffer int) <-chan chunksync.Update {
	ch := make(chan chunksync.Update, buffer)

	// mu is held so Stop cannot close subscribers between the check and the add
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		close(ch)
		return ch
	}

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe stops delivery to ch and closes it
func (m *Manager) Unsubscribe(ch <-chan chunksync.Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

// GetInfo returns information about the active session
func (m *Manager) GetInfo() Info {
	m.mu.RLock()
	active := m.active
	startTime := active.StartTime
	m.mu.RUnlock()

	info := Info{
		SessionID: active.Session.ID,
		Language:  active.Session.Language,
		StartTime: startTime,
		Chunks:    active.syncer.Store().Len(),
		Chunker:   active.chunker.GetStats(),
		Uploader:  active.uploader.GetStats(),
	}
	if !startTime.IsZero() {
		info.Duration = time.Since(startTime)
	}
	if active.gate.Enabled() {
		stats := active.gate.GetStats()
		info.VAD = &stats
	}
	return info
}

// Stop gracefully stops the workers and, when configured, ends the session
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	if !m.running {
		m.stopped = true
		m.mu.Unlock()
		m.closeSubscribers()
		return nil
	}
	m.running = false
	m.stopped = true
	active := m.active
	m.stopWorkers(active)
	m.cancel()
	m.mu.Unlock()

	m.forwarders.Wait()
	m.closeSubscribers()

	info := Info{
		SessionID: active.Session.ID,
		Chunks:    active.syncer.Store().Len(),
		Uploader:  active.uploader.GetStats(),
	}
	m.logger.Info("Session manager stopped",
		slog.String("session_id", info.SessionID),
		slog.Int("text_chunks", info.Chunks),
		slog.Uint64("audio_chunks_submitted", info.Uploader.ChunksSubmitted),
		slog.Uint64("audio_chunks_dropped", info.Uploader.ChunksDropped),
	)

	if !m.config.EndOnStop {
		return nil
	}

	msg, err := m.service.EndSession(ctx, active.Session)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", active.Session.ID, err)
	}
	m.logger.Info("Session ended", slog.String("session_id", active.Session.ID), slog.String("message", msg))
	return nil
}

func (m *Manager) newActive(session transcription.Session) (*Active, error) {
	chunker, err := audio.NewChunker(m.config.Chunking)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	window := int(int64(m.config.Chunking.SampleRate) * m.config.VADWindow.Milliseconds() / 1000)
	if window <= 0 {
		window = 1
	}
	gate, err := vad.NewProcessor(m.config.SilenceThreshold, window)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}

	syncer := chunksync.NewSyncer(m.service, session, nil, m.logger, m.metrics)

	return &Active{
		Session:  session,
		syncer:   syncer,
		poller:   chunksync.NewPoller(syncer, m.config.PollInterval),
		chunker:  chunker,
		gate:     gate,
		uploader: audio.NewUploader(m.service, session, m.config.Uploader, gate, m.logger, m.metrics),
	}, nil
}

// open creates session on the service, joining it when it already exists
func (m *Manager) open(ctx context.Context, session transcription.Session) error {
	msg, err := m.service.CreateSession(ctx, session)
	if errors.Is(err, transcription.ErrSessionExists) {
		m.logger.Info("Joining existing session", slog.String("session_id", session.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}

	m.logger.Info("Session opened", slog.String("session_id", session.ID), slog.String("message", msg))
	return nil
}

// startWorkers must be called with mu held
func (m *Manager) startWorkers(active *Active) {
	active.StartTime = time.Now()
	active.uploader.Start(m.ctx)

	updates := active.poller.Subscribe(16)
	m.forwarders.Add(1)
	go func() {
		defer m.forwarders.Done()
		for update := range updates {
			m.publish(update)
		}
	}()

	active.poller.Start(m.ctx)
}

// stopWorkers must be called with mu held
func (m *Manager) stopWorkers(active *Active) {
	active.poller.Stop()
	m.flush(active)
	active.uploader.Close()
}

func (m *Manager) flush(active *Active) bool {
	chunk, ok := active.chunker.Flush()
	if !ok {
		return false
	}
	return active.uploader.Enqueue(chunk)
}

func (m *Manager) publish(update chunksync.Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		select {
		case sub <- update:
		default:
			m.logger.Debug("Dropping transcript update for slow subscriber",
				slog.String("session_id", update.SessionID),
			)
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		delete(m.subscribers, sub)
		close(sub)
	}
}
