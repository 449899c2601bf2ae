package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/asr-session-client/internal/audio"
	"github.com/skypro1111/asr-session-client/internal/chunksync"
	"github.com/skypro1111/asr-session-client/internal/config"
	"github.com/skypro1111/asr-session-client/internal/dict"
	"github.com/skypro1111/asr-session-client/internal/server"
	"github.com/skypro1111/asr-session-client/internal/session"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

type command struct {
	name  string
	usage string
	help  string
	args  int // minimum number of arguments
	run   func(a *app, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"sessions", "sessions", "List sessions the service tracks", 0, (*app).cmdSessions},
		{"create", "create", "Create the configured session", 0, (*app).cmdCreate},
		{"end", "end", "End the configured session", 0, (*app).cmdEnd},
		{"versions", "versions", "Print the latest version of every text chunk", 0, (*app).cmdVersions},
		{"chunks", "chunks", "Print every text chunk", 0, (*app).cmdChunks},
		{"follow", "follow [-record <out.wav>]", "Keep the transcript in sync and print updates", 0, (*app).cmdFollow},
		{"stream", "stream [-fast] [-record <out.wav>] <file.wav>", "Upload a WAV recording and print the transcript", 1, (*app).cmdStream},
		{"edit", "edit <timestamp> <text>", "Replace the text of a chunk", 2, (*app).cmdEdit},
		{"rate", "rate <timestamp> <delta>", "Rate the latest version of a chunk", 2, (*app).cmdRate},
		{"dict", "dict <action> [args]", "Manage correction rules, see dict actions below", 1, (*app).cmdDict},
		{"language", "language source|transcript <lang>", "Switch a session language", 2, (*app).cmdLanguage},
		{"export", "export <file>", "Write the transcript as plain text", 1, (*app).cmdExport},
	}
}

// run dispatches args[0] to its command
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}

	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		if len(args)-1 < cmd.args {
			return fmt.Errorf("usage: asrclient %s", cmd.usage)
		}
		return cmd.run(a, ctx, args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (a *app) cmdSessions(ctx context.Context, args []string) error {
	sessions, err := a.client.GetActiveSessions(ctx, a.session)
	if err != nil {
		return err
	}
	for _, id := range sessions {
		fmt.Fprintln(a.out, id)
	}
	return nil
}

func (a *app) cmdCreate(ctx context.Context, args []string) error {
	msg, err := a.client.CreateSession(ctx, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) cmdEnd(ctx context.Context, args []string) error {
	msg, err := a.client.EndSession(ctx, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) cmdVersions(ctx context.Context, args []string) error {
	versions, err := a.client.GetLatestTextChunkVersions(ctx, a.session)
	if err != nil {
		return err
	}
	for _, ts := range versions.Timestamps() {
		fmt.Fprintf(a.out, "%d\t%d\n", ts, versions[ts])
	}
	return nil
}

func (a *app) cmdChunks(ctx context.Context, args []string) error {
	syncer, err := a.sync(ctx)
	if err != nil {
		return err
	}
	for _, chunk := range syncer.Store().Chunks() {
		a.printChunk(chunk)
	}
	return nil
}

// cmdFollow runs the session manager with the monitoring server and UDP
// ingest until interrupted
func (a *app) cmdFollow(ctx context.Context, args []string) error {
	opts, _, err := parseOptions("follow", args, false)
	if err != nil {
		return err
	}
	recorder, err := a.newRecorder(opts.record)
	if err != nil {
		return err
	}

	mgr, err := a.newManager(a.cfg.Sync.EndOnExit, recorder)
	if err != nil {
		return err
	}

	updates := mgr.Subscribe(64)
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	var udpServer *server.UDPServer
	if a.cfg.Audio.UDPListen != "" {
		udpServer = server.NewUDPServer(a.cfg.Audio, a.logger, mgr, a.metrics)
		if err := udpServer.Start(); err != nil {
			mgr.Stop(context.Background())
			return err
		}
	}

	var httpServer *server.HTTPServer
	if a.cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(a.cfg.HTTP, a.logger, a.cfg, mgr, a.client, udpServer, a.metrics)
		if err := httpServer.Start(); err != nil {
			a.logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("Following session",
		slog.String("session_id", a.session.ID),
		slog.String("language", a.session.Language),
		slog.Duration("poll_interval", a.cfg.Sync.GetPollInterval()),
	)

loop:
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			for _, chunk := range update.Chunks {
				a.printChunk(chunk)
			}
		case <-ctx.Done():
			a.logger.Info("Received shutdown signal")
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}
	if udpServer != nil {
		udpServer.Stop()
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		return err
	}
	return a.saveRecording(recorder, opts.record)
}

// cmdStream uploads a WAV file chunk by chunk, paced in real time unless
// -fast is given, then prints the resulting transcript
func (a *app) cmdStream(ctx context.Context, args []string) error {
	opts, rest, err := parseOptions("stream", args, true)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: asrclient stream [-fast] [-record <out.wav>] <file.wav>")
	}
	path := rest[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	pcm, info, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if info.SampleRate != a.cfg.Audio.SampleRate {
		return fmt.Errorf("%s is sampled at %d Hz, configured sample rate is %d Hz",
			path, info.SampleRate, a.cfg.Audio.SampleRate)
	}

	a.logger.Info("Streaming recording",
		slog.String("file", path),
		slog.Int("sample_rate", info.SampleRate),
		slog.Int("channels", info.Channels),
		slog.Float64("duration_seconds", info.Duration),
	)

	recorder, err := a.newRecorder(opts.record)
	if err != nil {
		return err
	}

	mgr, err := a.newManager(a.cfg.Sync.EndOnExit, recorder)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	samples := audio.PCM16ToFloat32(pcm)
	step := a.cfg.Audio.SampleRate * a.cfg.Audio.ChunkDurationMs / 1000
	chunkDuration := a.cfg.Audio.GetChunkDuration()

	for start := 0; start < len(samples) && ctx.Err() == nil; start += step {
		end := start + step
		if end > len(samples) {
			end = len(samples)
		}
		mgr.WriteAudio(samples[start:end])

		if opts.fast {
			waitForQueue(ctx, mgr, a.cfg.Audio.QueueSize)
		} else {
			select {
			case <-time.After(chunkDuration):
			case <-ctx.Done():
			}
		}
	}

	// Stop flushes the tail and drains the upload queue
	if err := mgr.Stop(context.Background()); err != nil {
		return err
	}
	if err := a.saveRecording(recorder, opts.record); err != nil {
		return err
	}

	syncer, err := a.sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, syncer.Store().Text())
	return nil
}

type streamOptions struct {
	fast   bool
	record string
}

// parseOptions reads the flags of stream and follow, which come before any
// positional argument
func parseOptions(name string, args []string, withFast bool) (streamOptions, []string, error) {
	var opts streamOptions

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if withFast {
		fs.BoolVar(&opts.fast, "fast", false, "Upload as fast as the queue allows")
	}
	fs.StringVar(&opts.record, "record", "", "Save the audio sent to the service as WAV")

	if err := fs.Parse(args); err != nil {
		return opts, nil, fmt.Errorf("%s: %w", name, err)
	}
	return opts, fs.Args(), nil
}

// newRecorder returns nil when path is empty
func (a *app) newRecorder(path string) (*audio.Recorder, error) {
	if path == "" {
		return nil, nil
	}
	return audio.NewRecorder(a.cfg.Audio.SampleRate)
}

func (a *app) saveRecording(recorder *audio.Recorder, path string) error {
	if recorder == nil {
		return nil
	}
	if recorder.Len() == 0 {
		a.logger.Warn("No audio recorded", slog.String("file", path))
		return nil
	}

	if err := recorder.WriteFile(path); err != nil {
		return err
	}
	a.logger.Info("Recording saved",
		slog.String("file", path),
		slog.Int("samples", recorder.Len()),
	)
	return nil
}

// waitForQueue blocks while the upload queue is full so no chunk is dropped
func waitForQueue(ctx context.Context, mgr *session.Manager, size int) {
	for mgr.GetInfo().Uploader.QueueDepth >= size && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
}

func (a *app) cmdEdit(ctx context.Context, args []string) error {
	timestamp, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
	}

	syncer, err := a.sync(ctx)
	if err != nil {
		return err
	}

	chunk, err := syncer.Edit(ctx, timestamp, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	a.printChunk(chunk)
	return nil
}

func (a *app) cmdRate(ctx context.Context, args []string) error {
	timestamp, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid rating %q: %w", args[1], err)
	}

	syncer, err := a.sync(ctx)
	if err != nil {
		return err
	}
	return syncer.Rate(ctx, timestamp, delta)
}

type dictAction struct {
	name  string
	usage string
	args  int
	run   func(a *app, ctx context.Context, args []string) error
}

var dictActions []dictAction

func init() {
	dictActions = []dictAction{
		{"get", "get <file>", 1, (*app).dictGet},
		{"set", "set <file>", 1, (*app).dictSet},
		{"list", "list", 0, (*app).dictList},
		{"add", "add <from> <to>", 2, (*app).dictAdd},
		{"update", "update <index> <from> <to>", 3, (*app).dictUpdate},
		{"rm", "rm <index>", 1, (*app).dictRemove},
		{"on", "on <index>", 1, dictToggle(true)},
		{"off", "off <index>", 1, dictToggle(false)},
		{"preview", "preview <text>", 1, (*app).dictPreview},
	}
}

func (a *app) cmdDict(ctx context.Context, args []string) error {
	names := make([]string, 0, len(dictActions))
	for _, action := range dictActions {
		if action.name == args[0] {
			if len(args)-1 < action.args {
				return fmt.Errorf("usage: asrclient dict %s", action.usage)
			}
			return action.run(a, ctx, args[1:])
		}
		names = append(names, action.name)
	}
	return fmt.Errorf("unknown dict action %q, want one of %s", args[0], strings.Join(names, ", "))
}

// dictGet writes the rules of the session language to a YAML or JSON file
func (a *app) dictGet(ctx context.Context, args []string) error {
	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}
	if err := dict.Save(args[0], d); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d entries written to %s\n", len(d.Entries), args[0])
	return nil
}

// dictSet replaces the rules with the content of a file
func (a *app) dictSet(ctx context.Context, args []string) error {
	d, err := dict.Load(args[0])
	if err != nil {
		return err
	}
	d = dict.Clean(d)

	current, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}
	if dict.Equal(current.Entries, d.Entries) && current.Locked == d.Locked {
		fmt.Fprintln(a.out, "rules unchanged")
		return nil
	}
	return a.submitDict(ctx, d)
}

func (a *app) dictList(ctx context.Context, args []string) error {
	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}

	for i, entry := range d.Entries {
		state := "off"
		if entry.Active {
			state = "on"
		}
		if entry.Locked {
			state += ",locked"
		}

		sources := make([]string, 0, len(entry.SourceStrings))
		for _, src := range entry.SourceStrings {
			sources = append(sources, src.String)
		}
		fmt.Fprintf(a.out, "%d\t%s\t%s -> %s\n", i, state, strings.Join(sources, ", "), entry.To)
	}
	return nil
}

func (a *app) dictAdd(ctx context.Context, args []string) error {
	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}

	d, err = dict.Add(d, newDictEntry(args[0], strings.Join(args[1:], " ")))
	if err != nil {
		return err
	}
	return a.submitDict(ctx, d)
}

func (a *app) dictUpdate(ctx context.Context, args []string) error {
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", args[0], err)
	}

	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}

	d, err = dict.Update(d, i, newDictEntry(args[1], strings.Join(args[2:], " ")))
	if err != nil {
		return fmt.Errorf("entry %d: %w", i, err)
	}
	return a.submitDict(ctx, d)
}

func (a *app) dictRemove(ctx context.Context, args []string) error {
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", args[0], err)
	}

	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}

	d, err = dict.Remove(d, i)
	if err != nil {
		return fmt.Errorf("entry %d: %w", i, err)
	}
	return a.submitDict(ctx, d)
}

// dictToggle switches an entry on or off
func dictToggle(active bool) func(a *app, ctx context.Context, args []string) error {
	return func(a *app, ctx context.Context, args []string) error {
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[0], err)
		}

		d, err := a.client.GetDict(ctx, a.session)
		if err != nil {
			return err
		}

		d, err = dict.SetActive(d, i, active)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		return a.submitDict(ctx, d)
	}
}

// dictPreview prints text as the current rules would correct it
func (a *app) dictPreview(ctx context.Context, args []string) error {
	d, err := a.client.GetDict(ctx, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, dict.Apply(d, strings.Join(args, " ")))
	return nil
}

func (a *app) submitDict(ctx context.Context, d transcription.Dict) error {
	d = dict.Clean(d)
	ack, err := a.client.SubmitDict(ctx, a.session, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d entries submitted: %s\n", len(d.Entries), ack.Message)
	return nil
}

func newDictEntry(from, to string) transcription.DictEntry {
	return transcription.DictEntry{
		SourceStrings: []transcription.SourceString{{String: from, Active: true}},
		To:            to,
		Active:        true,
	}
}

func (a *app) cmdLanguage(ctx context.Context, args []string) error {
	language := strings.ToLower(args[1])
	if !config.ValidLanguage(language) {
		return fmt.Errorf("language must be one of %v, got %q", config.Languages, args[1])
	}

	var (
		ack *transcription.Ack
		err error
	)
	switch args[0] {
	case "source":
		ack, err = a.client.SwitchSourceLanguage(ctx, a.session, language)
	case "transcript":
		ack, err = a.client.SwitchTranscriptLanguage(ctx, a.session, language)
	default:
		return fmt.Errorf("unknown language target %q, want source or transcript", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, ack.Message)
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	syncer, err := a.sync(ctx)
	if err != nil {
		return err
	}

	text := syncer.Store().Text()
	if err := os.WriteFile(args[0], []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}
	fmt.Fprintf(a.out, "%d chunks written to %s\n", syncer.Store().Len(), args[0])
	return nil
}

// sync fetches the whole transcript of the session into a fresh store
func (a *app) sync(ctx context.Context) (*chunksync.Syncer, error) {
	syncer := chunksync.NewSyncer(a.client, a.session, nil, a.logger, a.metrics)
	if _, err := syncer.Poll(ctx); err != nil {
		if errors.Is(err, transcription.ErrSessionNotFound) {
			return nil, fmt.Errorf("session %s does not exist, run create first: %w", a.session.ID, err)
		}
		return nil, err
	}
	return syncer, nil
}

func (a *app) newManager(endOnStop bool, recorder *audio.Recorder) (*session.Manager, error) {
	return session.NewManager(a.client, a.session, session.ManagerConfig{
		PollInterval: a.cfg.Sync.GetPollInterval(),
		Chunking: audio.ChunkingConfig{
			SampleRate:    a.cfg.Audio.SampleRate,
			ChunkDuration: a.cfg.Audio.GetChunkDuration(),
		},
		Uploader: audio.UploaderConfig{
			QueueSize:     a.cfg.Audio.QueueSize,
			SubmitTimeout: a.cfg.Client.GetTimeoutDuration(),
		},
		SilenceThreshold: a.cfg.Audio.SilenceThreshold,
		EndOnStop:        endOnStop,
		Recorder:         recorder,
	}, a.logger, a.metrics)
}

func (a *app) printChunk(chunk transcription.TextChunk) {
	fmt.Fprintf(a.out, "%d\tv%d\t%s\n", chunk.Timestamp, chunk.Version, chunk.Text)
}
