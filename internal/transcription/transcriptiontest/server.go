// Package transcriptiontest provides an in-memory transcription service for tests.
package transcriptiontest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/skypro1111/asr-session-client/internal/dict"
	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// Languages the fake service keeps transcripts for
var Languages = []string{"cs", "en"}

// Request is one call the server received
type Request struct {
	Method    string
	Path      string
	SessionID string
	Language  string
}

// Server is a fake transcription service backed by httptest.Server
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	sessions map[string]*session
	requests []Request
	failures map[string]int // endpoint -> remaining 500 replies
}

type session struct {
	id                 string
	sourceLanguage     string
	transcriptLanguage string
	texts              map[string]*texts
	audio              []transcription.AudioChunk
}

type texts struct {
	chunks  map[int64][]unit // timestamp -> versions
	rules   transcription.Dict
	ratings map[int64]map[int]int
}

type unit struct {
	text string
}

// NewServer starts a fake service
func NewServer() *Server {
	s := &Server{
		sessions: make(map[string]*session),
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/create_session", s.handleCreateSession)
	mux.HandleFunc("/end_session", s.handleEndSession)
	mux.HandleFunc("/get_active_sessions", s.handleActiveSessions)
	mux.HandleFunc("/submit_audio_chunk", s.withSession(s.handleSubmitAudio))
	mux.HandleFunc("/get_latest_text_chunk_versions", s.withText(s.handleVersions))
	mux.HandleFunc("/get_latest_text_chunks", s.withText(s.handleLatestChunks))
	mux.HandleFunc("/edit_asr_chunk", s.withText(s.handleEdit))
	mux.HandleFunc("/rate_text_chunk", s.withText(s.handleRate))
	mux.HandleFunc("/submit_correction_rules", s.withText(s.handleSubmitRules))
	mux.HandleFunc("/get_correction_rules", s.withText(s.handleGetRules))
	mux.HandleFunc("/switch_source_language", s.withSession(s.handleSwitchSource))
	mux.HandleFunc("/switch_transcript_language", s.withSession(s.handleSwitchTranscript))

	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// AppendText stores recognized text as version 0 of a new chunk, applying
// the session's correction rules first. It reports false for unknown sessions.
func (s *Server) AppendText(sessionID, language string, timestamp int64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	t, ok := sess.texts[language]
	if !ok {
		return false
	}

	t.chunks[timestamp] = []unit{{text: dict.Apply(t.rules, text)}}
	return true
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// AudioChunks returns the audio submitted to a session
func (s *Server) AudioChunks(sessionID string) []transcription.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]transcription.AudioChunk(nil), sess.audio...)
}

// Rating returns the accumulated rating of one chunk version
func (s *Server) Rating(sessionID, language string, timestamp int64, version int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.texts[language] == nil {
		return 0
	}
	return sess.texts[language].ratings[timestamp][version]
}

// SessionLanguages returns the source and transcript language of a session
func (s *Server) SessionLanguages(sessionID string) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", ""
	}
	return sess.sourceLanguage, sess.transcriptLanguage
}

// FailNext makes the next n calls to path answer 500
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			SessionID: q.Get("session_id"),
			Language:  q.Get("language"),
		})
		fail := s.failures[r.URL.Path] > 0
		if fail {
			s.failures[r.URL.Path]--
		}
		s.mu.Unlock()

		if fail {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"message": "internal error",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

type textHandler func(w http.ResponseWriter, r *http.Request, sess *session, t *texts)

// withSession resolves the session and holds the lock for the handler
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")

		s.mu.Lock()
		defer s.mu.Unlock()

		sess, ok := s.sessions[id]
		if !ok {
			sessionNotFound(w, id)
			return
		}
		h(w, r, sess)
	}
}

// withText additionally resolves the language-scoped transcript
func (s *Server) withText(h textHandler) http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, sess *session) {
		t, ok := sess.texts[r.URL.Query().Get("language")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success":    false,
				"session_id": sess.id,
				"message":    "language not found",
			})
			return
		}
		h(w, r, sess, t)
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Session ID not provided"})
		return
	}
	if _, exists := s.sessions[id]; exists {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Session already exists"})
		return
	}

	sess := &session{
		id:                 id,
		sourceLanguage:     "en",
		transcriptLanguage: "en",
		texts:              make(map[string]*texts),
	}
	for _, lang := range Languages {
		sess.texts[lang] = &texts{
			chunks:  make(map[int64][]unit),
			rules:   transcription.Dict{Entries: []transcription.DictEntry{}},
			ratings: make(map[int64]map[int]int),
		}
	}
	s.sessions[id] = sess

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully created session %s", id),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		sessionNotFound(w, id)
		return
	}
	delete(s.sessions, id)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully ended session %s", id),
	})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{"active_sessions": ids})
}

func (s *Server) handleSubmitAudio(w http.ResponseWriter, r *http.Request, sess *session) {
	var chunk transcription.AudioChunk
	if !decode(w, r, &chunk) {
		return
	}
	sess.audio = append(sess.audio, chunk)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": sess.id})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sess.id,
		"versions":   t.latestVersions(),
	})
}

func (s *Server) handleLatestChunks(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	var req struct {
		Versions map[string]int `json:"versions"`
	}
	if !decode(w, r, &req) {
		return
	}

	known := make(map[int64]int, len(req.Versions))
	for key, version := range req.Versions {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid timestamp " + key})
			return
		}
		known[ts] = version
	}

	chunks := make([]transcription.TextChunk, 0)
	for _, ts := range sortedTimestamps(t.chunks) {
		newest := len(t.chunks[ts]) - 1
		if version, ok := known[ts]; ok && version >= newest {
			continue
		}
		chunks = append(chunks, transcription.TextChunk{
			Timestamp: ts,
			Version:   newest,
			Text:      t.chunks[ts][newest].text,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"session_id":  sess.id,
		"text_chunks": chunks,
		"versions":    t.latestVersions(),
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	var chunk transcription.TextChunk
	if !decode(w, r, &chunk) {
		return
	}

	versions, ok := t.chunks[chunk.Timestamp]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "text chunk not found"})
		return
	}

	text := dict.Apply(t.rules, chunk.Text)
	newest := len(versions) - 1
	if text != versions[newest].text {
		t.chunks[chunk.Timestamp] = append(versions, unit{text: text})
		newest++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sess.id,
		"timestamp":  chunk.Timestamp,
		"version":    newest,
		"text":       t.chunks[chunk.Timestamp][newest].text,
	})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	var req struct {
		Timestamp    int64 `json:"timestamp"`
		Version      int   `json:"version"`
		RatingUpdate int   `json:"rating_update"`
	}
	if !decode(w, r, &req) {
		return
	}

	versions, ok := t.chunks[req.Timestamp]
	if !ok || req.Version < 0 || req.Version >= len(versions) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "text chunk not found"})
		return
	}

	if t.ratings[req.Timestamp] == nil {
		t.ratings[req.Timestamp] = make(map[int]int)
	}
	t.ratings[req.Timestamp][req.Version] += req.RatingUpdate

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully updated rating for %s, chunk_id %d, chunk_version %d, new_rating %d",
			sess.id, req.Timestamp, req.Version, t.ratings[req.Timestamp][req.Version]),
	})
}

func (s *Server) handleSubmitRules(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	var d transcription.Dict
	if !decode(w, r, &d) {
		return
	}
	t.rules = dict.Clean(d)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully uploaded rules for session %s, language %s", sess.id, r.URL.Query().Get("language")),
	})
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request, sess *session, t *texts) {
	writeJSON(w, http.StatusOK, t.rules)
}

func (s *Server) handleSwitchSource(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		Language string `json:"language"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess.sourceLanguage = req.Language
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": sess.id})
}

func (s *Server) handleSwitchTranscript(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		Language string `json:"language"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess.transcriptLanguage = req.Language
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": sess.id})
}

func (t *texts) latestVersions() map[string]int {
	out := make(map[string]int, len(t.chunks))
	for ts, versions := range t.chunks {
		out[strconv.FormatInt(ts, 10)] = len(versions) - 1
	}
	return out
}

func sortedTimestamps(chunks map[int64][]unit) []int64 {
	keys := make([]int64, 0, len(chunks))
	for ts := range chunks {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return false
	}
	return true
}

func sessionNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success":    false,
		"session_id": id,
		"message":    "Session not found",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
