package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/asr-session-client/internal/audio"
	"github.com/skypro1111/asr-session-client/internal/config"
	"github.com/skypro1111/asr-session-client/internal/metrics"
)

// idleFlushTimeout is how long the source may stay quiet before the
// partial chunk is sent
const idleFlushTimeout = time.Second

// AudioSink receives decoded samples of the active recording
type AudioSink interface {
	WriteAudio(samples []float32) int
	FlushAudio() bool
}

// UDPServer receives raw mono s16le PCM datagrams (for example from
// `ffmpeg -f s16le -ac 1 udp://host:port`) and feeds them to an AudioSink
type UDPServer struct {
	conn    *net.UDPConn
	config  config.AudioConfig
	logger  *slog.Logger
	sink    AudioSink
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Datagrams are decoded by a single worker so samples keep their order
	packetChan chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	decodeErrors     uint64
	samplesReceived  uint64
	chunksQueued     uint64
	idleFlushes      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP datagram with metadata. A flush
// marker carries no data and asks for the partial chunk to be sent.
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
	flush      bool
}

// ServerStatistics represents UDP ingest counters
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	DecodeErrors     uint64 `json:"decode_errors"`
	SamplesReceived  uint64 `json:"samples_received"`
	ChunksQueued     uint64 `json:"chunks_queued"`
	IdleFlushes      uint64 `json:"idle_flushes"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP ingest server
func NewUDPServer(cfg config.AudioConfig, logger *slog.Logger, sink AudioSink, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		sink:       sink,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
	}
}

// Start begins listening on the configured address
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.UDPListen)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.UDPBufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.UDPBufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP audio ingest started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("sample_rate", s.config.SampleRate),
	)

	s.wg.Add(2)
	go s.packetProcessor()
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the server after decoding queued datagrams
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP audio ingest...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP audio ingest stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("samples_received", stats.SamplesReceived),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop. It owns packetChan.
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	defer close(s.packetChan)

	buffer := make([]byte, s.config.UDPBufferSize)
	pending := false // audio arrived since the last flush

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(idleFlushTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if pending {
					select {
					case s.packetChan <- &incomingPacket{flush: true, timestamp: time.Now()}:
						pending = false
					default:
					}
				}
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		pending = true

		// buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()

			s.logger.Warn("Audio packet queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor decodes datagrams in arrival order
func (s *UDPServer) packetProcessor() {
	defer s.wg.Done()

	for packet := range s.packetChan {
		if packet.flush {
			s.handleIdle()
			continue
		}
		s.handlePacket(packet)
	}
}

// handleIdle sends the partial chunk once the source went quiet
func (s *UDPServer) handleIdle() {
	if !s.sink.FlushAudio() {
		return
	}

	s.mu.Lock()
	s.idleFlushes++
	s.chunksQueued++
	s.mu.Unlock()

	s.logger.Debug("Audio source idle, partial chunk queued")
}

// handlePacket decodes one datagram and writes its samples to the sink
func (s *UDPServer) handlePacket(packet *incomingPacket) {
	if len(packet.data) == 0 || len(packet.data)%2 != 0 {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		s.metrics.RecordUDPPacket(false)

		s.logger.Warn("Discarding malformed audio packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
		)
		return
	}
	s.metrics.RecordUDPPacket(true)

	samples := audio.PCM16ToFloat32(audio.DecodePCM16LE(packet.data))
	queued := s.sink.WriteAudio(samples)

	s.mu.Lock()
	s.packetsProcessed++
	s.samplesReceived += uint64(len(samples))
	s.chunksQueued += uint64(queued)
	s.mu.Unlock()

	if queued > 0 {
		s.logger.Debug("Audio chunks queued from UDP ingest",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("chunks", queued),
			slog.Duration("latency", time.Since(packet.timestamp)),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		DecodeErrors:     s.decodeErrors,
		SamplesReceived:  s.samplesReceived,
		ChunksQueued:     s.chunksQueued,
		IdleFlushes:      s.idleFlushes,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}
