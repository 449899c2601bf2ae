package chunksync

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/asr-session-client/internal/metrics"
	"github.com/skypro1111/asr-session-client/internal/transcription"
	"github.com/skypro1111/asr-session-client/internal/transcription/transcriptiontest"
)

func newTestService(t *testing.T, id string) (*transcriptiontest.Server, *transcription.Client, transcription.Session) {
	t.Helper()

	srv := transcriptiontest.NewServer()
	t.Cleanup(srv.Close)

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:    srv.URL,
		RetryDelay: time.Millisecond,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	session := transcription.NewSession(id, "en")
	if _, err := client.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return srv, client, session
}

// bumpTo edits the chunk at ts until the service reports version
func bumpTo(t *testing.T, client *transcription.Client, session transcription.Session, ts int64, version int) {
	t.Helper()
	for v := 1; v <= version; v++ {
		chunk := transcription.TextChunk{Timestamp: ts, Text: fmt.Sprintf("chunk %d v%d", ts, v)}
		if _, err := client.UpdateTextChunk(context.Background(), session, chunk); err != nil {
			t.Fatalf("UpdateTextChunk failed: %v", err)
		}
	}
}

func TestStale(t *testing.T) {
	tests := []struct {
		name     string
		local    transcription.TextChunkVersions
		server   transcription.TextChunkVersions
		expected transcription.TextChunkVersions
	}{
		{"both empty", nil, nil, transcription.TextChunkVersions{}},
		{"all new", nil, transcription.TextChunkVersions{1: 0, 2: 3}, transcription.TextChunkVersions{1: 0, 2: 3}},
		{"up to date", transcription.TextChunkVersions{1: 2}, transcription.TextChunkVersions{1: 2}, transcription.TextChunkVersions{}},
		{"newer on server", transcription.TextChunkVersions{1: 0, 2: 1}, transcription.TextChunkVersions{1: 1, 2: 1}, transcription.TextChunkVersions{1: 1}},
		{"local ahead", transcription.TextChunkVersions{1: 5}, transcription.TextChunkVersions{1: 4}, transcription.TextChunkVersions{}},
		{"gone from server", transcription.TextChunkVersions{9: 0}, transcription.TextChunkVersions{}, transcription.TextChunkVersions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Stale(tt.local, tt.server)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, got)
			}
			for ts, v := range tt.expected {
				if got[ts] != v {
					t.Errorf("Timestamp %d: expected %d, got %d", ts, v, got[ts])
				}
			}
		})
	}
}

func TestDeltaProperty(t *testing.T) {
	fake, client, session := newTestService(t, "property")

	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	serverVersions := make(transcription.TextChunkVersions)
	for ts := int64(0); ts < 20; ts++ {
		fake.AppendText(session.ID, "en", ts*100, "text")
		version := rng.Intn(3)
		bumpTo(t, client, session, ts*100, version)
		serverVersions[ts*100] = version
	}

	for round := 0; round < 50; round++ {
		local := make(transcription.TextChunkVersions)
		for ts, v := range serverVersions {
			if rng.Intn(3) == 0 {
				continue // absent locally
			}
			local[ts] = rng.Intn(v + 1)
		}

		chunks, err := client.GetLatestTextChunks(ctx, session, local)
		if err != nil {
			t.Fatalf("GetLatestTextChunks failed: %v", err)
		}

		expected := Stale(local, serverVersions)
		if len(chunks) != len(expected) {
			t.Fatalf("Round %d: expected %d chunks, got %d", round, len(expected), len(chunks))
		}
		for _, chunk := range chunks {
			version, ok := expected[chunk.Timestamp]
			if !ok {
				t.Errorf("Round %d: unexpected chunk %d", round, chunk.Timestamp)
				continue
			}
			if chunk.Version != version {
				t.Errorf("Round %d: chunk %d expected version %d, got %d", round, chunk.Timestamp, version, chunk.Version)
			}
		}
	}
}

func TestStoreMerge(t *testing.T) {
	store := NewStore()
	store.Merge([]transcription.TextChunk{
		{Timestamp: 20, Version: 0, Text: "second"},
		{Timestamp: 10, Version: 1, Text: "first"},
		{Timestamp: 20, Version: 2, Text: "second, edited"},
	})

	chunks := store.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Timestamp != 10 || chunks[1].Timestamp != 20 {
		t.Errorf("Expected chunks ordered by timestamp, got %+v", chunks)
	}
	if chunks[1].Text != "second, edited" || chunks[1].Version != 2 {
		t.Errorf("Expected later duplicate to win, got %+v", chunks[1])
	}

	versions := store.Versions()
	if versions[10] != 1 || versions[20] != 2 {
		t.Errorf("Unexpected versions %v", versions)
	}

	if text := store.Text(); text != "first\nsecond, edited\n" {
		t.Errorf("Unexpected text %q", text)
	}
}

// countingService counts calls to the versions and chunks endpoints
type countingService struct {
	Service
	versionCalls int32
	chunkCalls   int32
}

func (c *countingService) GetLatestTextChunkVersions(ctx context.Context, session transcription.Session) (transcription.TextChunkVersions, error) {
	atomic.AddInt32(&c.versionCalls, 1)
	return c.Service.GetLatestTextChunkVersions(ctx, session)
}

func (c *countingService) GetLatestTextChunks(ctx context.Context, session transcription.Session, known transcription.TextChunkVersions) ([]transcription.TextChunk, error) {
	atomic.AddInt32(&c.chunkCalls, 1)
	return c.Service.GetLatestTextChunks(ctx, session, known)
}

func TestSyncerPoll(t *testing.T) {
	srv, client, session := newTestService(t, "poll")
	ctx := context.Background()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	service := &countingService{Service: client}
	syncer := NewSyncer(service, session, nil, nil, m)

	srv.AppendText("poll", "en", 0, "one")
	srv.AppendText("poll", "en", 500, "two")

	merged, err := syncer.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("Expected 2 merged chunks, got %d", len(merged))
	}

	// Nothing changed: only the versions request goes out
	merged, err = syncer.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(merged) != 0 {
		t.Errorf("Expected no merged chunks, got %+v", merged)
	}
	if service.versionCalls != 2 || service.chunkCalls != 1 {
		t.Errorf("Expected 2 version and 1 chunk requests, got %d and %d", service.versionCalls, service.chunkCalls)
	}

	bumpTo(t, client, session, 500, 1)
	merged, err = syncer.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(merged) != 1 || merged[0].Timestamp != 500 || merged[0].Version != 1 {
		t.Errorf("Expected only the edited chunk, got %+v", merged)
	}

	if got, ok := syncer.Store().Get(500); !ok || got.Text != "chunk 500 v1" {
		t.Errorf("Expected store to hold the edited text, got %+v", got)
	}
	if got := testutil.ToFloat64(m.ChunksMerged); got != 3 {
		t.Errorf("Expected 3 merged chunks recorded, got %v", got)
	}
}

func TestSyncerPollFailure(t *testing.T) {
	_, client, session := newTestService(t, "known")

	syncer := NewSyncer(client, session.WithID("missing"), nil, nil, nil)
	if _, err := syncer.Poll(context.Background()); err == nil {
		t.Fatal("Expected error polling an unknown session")
	} else if !transcription.IsStatus(err) {
		t.Errorf("Expected wrapped status error, got %v", err)
	}
}

func TestSyncerEditAndRate(t *testing.T) {
	srv, client, session := newTestService(t, "edit")
	ctx := context.Background()

	srv.AppendText("edit", "en", 42, "helo")
	syncer := NewSyncer(client, session, nil, nil, nil)
	if _, err := syncer.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	updated, err := syncer.Edit(ctx, 42, "hello")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.Version != 1 || updated.Text != "hello" {
		t.Errorf("Unexpected edit reply %+v", updated)
	}
	if got, _ := syncer.Store().Get(42); got != updated {
		t.Errorf("Expected store to adopt the reply, got %+v", got)
	}

	if err := syncer.Rate(ctx, 42, 1); err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if got := srv.Rating("edit", "en", 42, 1); got != 1 {
		t.Errorf("Expected rating on version 1, got %d", got)
	}

	if _, err := syncer.Edit(ctx, 7, "missing"); err == nil {
		t.Error("Expected error editing an unknown chunk")
	}
}

// gatedService holds GetLatestTextChunks until release is closed
type gatedService struct {
	Service
	entered chan struct{}
	release chan struct{}
}

func (g *gatedService) GetLatestTextChunks(ctx context.Context, session transcription.Session, known transcription.TextChunkVersions) ([]transcription.TextChunk, error) {
	chunks, err := g.Service.GetLatestTextChunks(ctx, session, known)
	close(g.entered)
	<-g.release
	return chunks, err
}

func TestSyncerPollAfterEdit(t *testing.T) {
	srv, client, session := newTestService(t, "late")
	ctx := context.Background()

	srv.AppendText("late", "en", 5, "old")
	syncer := NewSyncer(client, session, nil, nil, nil)
	if _, err := syncer.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	// Move the service to v1, then start a poll that reads v1 but is held back
	bumpTo(t, client, session, 5, 1)
	gated := &gatedService{Service: client, entered: make(chan struct{}), release: make(chan struct{})}
	lateSyncer := NewSyncer(gated, session, syncer.Store(), nil, nil)

	type result struct {
		chunks []transcription.TextChunk
		err    error
	}
	done := make(chan result, 1)
	go func() {
		chunks, err := lateSyncer.Poll(ctx)
		done <- result{chunks, err}
	}()
	<-gated.entered

	updated, err := syncer.Edit(ctx, 5, "edited")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("Expected edit reply at version 2, got %+v", updated)
	}

	close(gated.release)
	res := <-done
	if res.err != nil {
		t.Fatalf("Poll failed: %v", res.err)
	}
	if len(res.chunks) != 0 {
		t.Errorf("Expected the older reply to be skipped, got %+v", res.chunks)
	}

	if got, _ := syncer.Store().Get(5); got != updated {
		t.Errorf("Expected store to keep the edit, got %+v", got)
	}
}

func TestStoreMergeSkipsOlder(t *testing.T) {
	store := NewStore()
	store.Merge([]transcription.TextChunk{{Timestamp: 5, Version: 2, Text: "edited"}})

	tests := []struct {
		name    string
		chunk   transcription.TextChunk
		applied int
		want    string
	}{
		{"older version", transcription.TextChunk{Timestamp: 5, Version: 1, Text: "old"}, 0, "edited"},
		{"same version", transcription.TextChunk{Timestamp: 5, Version: 2, Text: "same"}, 1, "same"},
		{"newer version", transcription.TextChunk{Timestamp: 5, Version: 3, Text: "newer"}, 1, "newer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied := store.Merge([]transcription.TextChunk{tt.chunk})
			if len(applied) != tt.applied {
				t.Errorf("Expected %d applied chunks, got %d", tt.applied, len(applied))
			}
			if got, _ := store.Get(5); got.Text != tt.want {
				t.Errorf("Expected text '%s', got '%s'", tt.want, got.Text)
			}
		})
	}
}

func TestPollerPublishes(t *testing.T) {
	srv, client, session := newTestService(t, "poller")

	srv.AppendText("poller", "en", 0, "hello")
	poller := NewPoller(NewSyncer(client, session, nil, nil, nil), 10*time.Millisecond)
	updates := poller.Subscribe(4)

	poller.Start(context.Background())
	defer poller.Stop()

	select {
	case update := <-updates:
		if update.SessionID != "poller" || len(update.Chunks) != 1 || update.Chunks[0].Text != "hello" {
			t.Errorf("Unexpected update %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for update")
	}

	srv.AppendText("poller", "en", 100, "world")
	select {
	case update := <-updates:
		if len(update.Chunks) != 1 || update.Chunks[0].Timestamp != 100 {
			t.Errorf("Expected only the new chunk, got %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for second update")
	}
}

func TestPollerStop(t *testing.T) {
	_, client, session := newTestService(t, "stop")

	poller := NewPoller(NewSyncer(client, session, nil, nil, nil), time.Hour)
	updates := poller.Subscribe(1)
	poller.Start(context.Background())
	poller.Stop()
	poller.Stop()

	if _, ok := <-updates; ok {
		t.Error("Expected subscriber channel closed after Stop")
	}

	unstarted := NewPoller(NewSyncer(client, session, nil, nil, nil), time.Second)
	unstarted.Stop()
}
