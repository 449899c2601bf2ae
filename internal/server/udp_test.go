package server

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/asr-session-client/internal/audio"
	"github.com/skypro1111/asr-session-client/internal/config"
	"github.com/skypro1111/asr-session-client/internal/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	samples []float32
	flushed int // samples already handed out by FlushAudio
}

func (s *recordingSink) WriteAudio(samples []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return len(s.samples) / 4
}

func (s *recordingSink) FlushAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed == len(s.samples) {
		return false
	}
	s.flushed = len(s.samples)
	return true
}

func (s *recordingSink) Samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.samples...)
}

func createTestUDPServer(t *testing.T) (*UDPServer, *recordingSink, *metrics.Metrics, net.Conn) {
	t.Helper()

	cfg := config.Default().Audio
	cfg.UDPListen = "127.0.0.1:0"

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sink := &recordingSink{}

	srv := NewUDPServer(cfg, logger, sink, m)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial UDP server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, sink, m, conn
}

func waitForStats(t *testing.T, srv *UDPServer, cond func(ServerStatistics) bool) ServerStatistics {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := srv.GetStatistics()
		if cond(stats) {
			return stats
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for UDP statistics, last %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUDPServerIngest(t *testing.T) {
	srv, sink, m, conn := createTestUDPServer(t)

	packets := [][]int16{
		{32767, -16384},
		{0, -32768},
	}
	for _, p := range packets {
		if _, err := conn.Write(audio.EncodePCM16LE(p)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	stats := waitForStats(t, srv, func(s ServerStatistics) bool { return s.PacketsProcessed == 2 })
	if stats.SamplesReceived != 4 {
		t.Errorf("Expected 4 samples received, got %d", stats.SamplesReceived)
	}

	expected := []float32{1, -0.5, 0, -1}
	got := sink.Samples()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, expected[i], got[i])
		}
	}

	if got := testutil.ToFloat64(m.UDPPacketsReceived); got != 2 {
		t.Errorf("Expected 2 packets in metrics, got %v", got)
	}
}

func TestUDPServerMalformedPacket(t *testing.T) {
	srv, sink, m, conn := createTestUDPServer(t)

	// Odd length cannot hold whole 16-bit samples
	conn.Write([]byte{0x01, 0x02, 0x03})

	waitForStats(t, srv, func(s ServerStatistics) bool { return s.DecodeErrors == 1 })

	if len(sink.Samples()) != 0 {
		t.Error("Expected no samples from a malformed packet")
	}
	if got := testutil.ToFloat64(m.UDPPacketErrors); got != 1 {
		t.Errorf("Expected 1 packet error in metrics, got %v", got)
	}
}

func TestUDPServerStopWithoutStart(t *testing.T) {
	cfg := config.Default().Audio
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewUDPServer(cfg, logger, &recordingSink{}, nil)
	if srv.Addr() != nil {
		t.Error("Expected nil address before Start")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestUDPServerIdleFlush(t *testing.T) {
	srv, _, _, conn := createTestUDPServer(t)

	if _, err := conn.Write(audio.EncodePCM16LE([]int16{1, 2, 3})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// One read timeout without audio sends the partial chunk
	deadline := time.Now().Add(3 * idleFlushTimeout)
	for srv.GetStatistics().IdleFlushes == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for idle flush")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Silence alone does not flush again
	time.Sleep(2 * idleFlushTimeout)
	if got := srv.GetStatistics().IdleFlushes; got != 1 {
		t.Errorf("Expected 1 idle flush, got %d", got)
	}
}
