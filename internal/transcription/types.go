package transcription

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
)

// Session addresses one server-side transcription context. It is a value:
// switching sessions means building a new Session, never mutating one that
// in-flight calls may still hold.
type Session struct {
	ID       string
	Language string
}

// NewSession returns a session bound to id and language
func NewSession(id, language string) Session {
	return Session{ID: id, Language: language}
}

// WithID returns a copy of the session addressing id
func (s Session) WithID(id string) Session {
	s.ID = id
	return s
}

// WithLanguage returns a copy of the session using language
func (s Session) WithLanguage(language string) Session {
	s.Language = language
	return s
}

// Validate checks that the session can be put on the wire
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	return nil
}

func (s Session) query() url.Values {
	q := url.Values{}
	q.Set("session_id", s.ID)
	if s.Language != "" {
		q.Set("language", s.Language)
	}
	return q
}

// TextChunk is one versioned unit of transcribed text keyed by its timestamp
type TextChunk struct {
	Timestamp int64  `json:"timestamp"`
	Version   int    `json:"version"`
	Text      string `json:"text"`
}

// TextChunkVersions maps chunk timestamps to versions
type TextChunkVersions map[int64]int

// Timestamps returns the keys in ascending order
func (v TextChunkVersions) Timestamps() []int64 {
	keys := make([]int64, 0, len(v))
	for ts := range v {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Samples is a sequence of 32-bit float audio samples in [-1, 1].
//
// The service decodes samples the way a browser serializes a Float32Array,
// as an object keyed by sample index, so that is what MarshalJSON emits.
// UnmarshalJSON accepts both that form and a plain JSON array.
type Samples []float32

// MarshalJSON encodes the samples as {"0": s0, "1": s1, ...}
func (s Samples) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+len(s)*12)
	buf = append(buf, '{')
	for i, v := range s {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("sample %d is not a finite number", i)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = strconv.AppendInt(buf, int64(i), 10)
		buf = append(buf, '"', ':')
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes either an index-keyed object or an array
func (s *Samples) UnmarshalJSON(data []byte) error {
	var list []float32
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var indexed map[string]float32
	if err := json.Unmarshal(data, &indexed); err != nil {
		return fmt.Errorf("samples must be an array or an index-keyed object: %w", err)
	}

	out := make(Samples, len(indexed))
	filled := make([]bool, len(indexed))
	for key, v := range indexed {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(indexed) {
			return fmt.Errorf("invalid sample index %q", key)
		}
		// "0" and "00" name the same sample
		if filled[i] {
			return fmt.Errorf("duplicate sample index %q", key)
		}
		filled[i] = true
		out[i] = v
	}
	*s = out
	return nil
}

// AudioChunk is one block of recorded audio tagged with its timestamp
type AudioChunk struct {
	Timestamp int64   `json:"timestamp"`
	Chunk     Samples `json:"chunk"`
}

// SourceString is one variant a correction entry replaces
type SourceString struct {
	String string `json:"string" yaml:"string"`
	Active bool   `json:"active" yaml:"active"`
}

// DictEntry is a correction rule mapping source variants to a replacement
type DictEntry struct {
	SourceStrings []SourceString `json:"source_strings" yaml:"source_strings"`
	To            string         `json:"to" yaml:"to"`
	Version       int            `json:"version" yaml:"version"`
	Active        bool           `json:"active" yaml:"active"`
	Locked        bool           `json:"locked" yaml:"locked"`
}

// Dict is the full correction dictionary of a session language
type Dict struct {
	Entries []DictEntry `json:"entries" yaml:"entries"`
	Locked  bool        `json:"locked" yaml:"locked"`
}

// Ack is the generic envelope the service answers with
type Ack struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

type messageResponse struct {
	Ack
}

type activeSessionsResponse struct {
	ActiveSessions []string `json:"active_sessions"`
}

type versionsResponse struct {
	Ack
	Versions TextChunkVersions `json:"versions"`
}

type versionsRequest struct {
	Versions TextChunkVersions `json:"versions"`
}

type textChunksResponse struct {
	Ack
	TextChunks []TextChunk        `json:"text_chunks"`
	Versions   TextChunkVersions `json:"versions,omitempty"`
}

type editResponse struct {
	Ack
	TextChunk
}

type rateRequest struct {
	Timestamp    int64 `json:"timestamp"`
	Version      int   `json:"version"`
	RatingUpdate int   `json:"rating_update"`
}

type languageRequest struct {
	Language string `json:"language"`
}
