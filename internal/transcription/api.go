package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Service endpoints
const (
	EndpointCreateSession            = "/create_session"
	EndpointEndSession               = "/end_session"
	EndpointActiveSessions           = "/get_active_sessions"
	EndpointSubmitAudioChunk         = "/submit_audio_chunk"
	EndpointTextChunkVersions        = "/get_latest_text_chunk_versions"
	EndpointLatestTextChunks         = "/get_latest_text_chunks"
	EndpointEditTextChunk            = "/edit_asr_chunk"
	EndpointSubmitCorrectionRules    = "/submit_correction_rules"
	EndpointGetCorrectionRules       = "/get_correction_rules"
	EndpointRateTextChunk            = "/rate_text_chunk"
	EndpointSwitchSourceLanguage     = "/switch_source_language"
	EndpointSwitchTranscriptLanguage = "/switch_transcript_language"
)

// CreateSession asks the service to open session and returns its message
func (c *Client) CreateSession(ctx context.Context, session Session) (string, error) {
	var res messageResponse
	if err := c.get(ctx, EndpointCreateSession, session, &res); err != nil {
		return "", err
	}

	c.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("message", res.Message),
	)
	return res.Message, nil
}

// EndSession closes session. Ending a session the service no longer knows
// is not an error, so repeated calls are safe.
func (c *Client) EndSession(ctx context.Context, session Session) (string, error) {
	var res messageResponse
	err := c.get(ctx, EndpointEndSession, session, &res)
	if errors.Is(err, ErrSessionNotFound) {
		c.logger.Debug("Session already ended",
			slog.String("session_id", session.ID),
		)
		var statusErr *StatusError
		errors.As(err, &statusErr)
		return statusErr.Message, nil
	}
	if err != nil {
		return "", err
	}

	c.logger.Info("Session ended",
		slog.String("session_id", session.ID),
		slog.String("message", res.Message),
	)
	return res.Message, nil
}

// GetActiveSessions returns the identifiers of sessions the service tracks
func (c *Client) GetActiveSessions(ctx context.Context, session Session) ([]string, error) {
	var res activeSessionsResponse
	if err := c.get(ctx, EndpointActiveSessions, session, &res); err != nil {
		return nil, err
	}
	if res.ActiveSessions == nil {
		return []string{}, nil
	}
	return res.ActiveSessions, nil
}

// SubmitAudioChunk uploads one recorded chunk
func (c *Client) SubmitAudioChunk(ctx context.Context, session Session, chunk AudioChunk) (*Ack, error) {
	var res Ack
	if err := c.post(ctx, EndpointSubmitAudioChunk, session, chunk, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetLatestTextChunkVersions returns the service's current version of every chunk
func (c *Client) GetLatestTextChunkVersions(ctx context.Context, session Session) (TextChunkVersions, error) {
	var res versionsResponse
	if err := c.get(ctx, EndpointTextChunkVersions, session, &res); err != nil {
		return nil, err
	}
	if res.Versions == nil {
		return TextChunkVersions{}, nil
	}
	return res.Versions, nil
}

// GetLatestTextChunks returns the chunks whose service version is newer than
// known, plus chunks known does not mention. An empty map returns every chunk.
func (c *Client) GetLatestTextChunks(ctx context.Context, session Session, known TextChunkVersions) ([]TextChunk, error) {
	if known == nil {
		known = TextChunkVersions{}
	}

	var res textChunksResponse
	if err := c.post(ctx, EndpointLatestTextChunks, session, versionsRequest{Versions: known}, &res); err != nil {
		return nil, err
	}
	if res.TextChunks == nil {
		return []TextChunk{}, nil
	}
	return res.TextChunks, nil
}

// UpdateTextChunk submits an edit. The returned chunk is the service's
// authoritative post-edit state and must replace the local copy as is.
func (c *Client) UpdateTextChunk(ctx context.Context, session Session, chunk TextChunk) (TextChunk, error) {
	var res editResponse
	if err := c.post(ctx, EndpointEditTextChunk, session, chunk, &res); err != nil {
		return TextChunk{}, err
	}

	return TextChunk{
		Timestamp: res.Timestamp,
		Version:   res.Version,
		Text:      res.Text,
	}, nil
}

// SubmitDict replaces the session's correction dictionary
func (c *Client) SubmitDict(ctx context.Context, session Session, dict Dict) (*Ack, error) {
	if dict.Entries == nil {
		dict.Entries = []DictEntry{}
	}

	var res Ack
	if err := c.post(ctx, EndpointSubmitCorrectionRules, session, dict, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetDict fetches the session's correction dictionary
func (c *Client) GetDict(ctx context.Context, session Session) (Dict, error) {
	var res Dict
	if err := c.get(ctx, EndpointGetCorrectionRules, session, &res); err != nil {
		return Dict{}, err
	}
	if res.Entries == nil {
		res.Entries = []DictEntry{}
	}
	return res, nil
}

// RateTextChunk adds rating to the given version of a chunk
func (c *Client) RateTextChunk(ctx context.Context, session Session, chunk TextChunk, rating int) (*Ack, error) {
	req := rateRequest{
		Timestamp:    chunk.Timestamp,
		Version:      chunk.Version,
		RatingUpdate: rating,
	}

	var res Ack
	if err := c.post(ctx, EndpointRateTextChunk, session, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SwitchSourceLanguage changes the language the service transcribes from
func (c *Client) SwitchSourceLanguage(ctx context.Context, session Session, language string) (*Ack, error) {
	return c.switchLanguage(ctx, EndpointSwitchSourceLanguage, session, language)
}

// SwitchTranscriptLanguage changes the language the service writes transcripts in
func (c *Client) SwitchTranscriptLanguage(ctx context.Context, session Session, language string) (*Ack, error) {
	return c.switchLanguage(ctx, EndpointSwitchTranscriptLanguage, session, language)
}

func (c *Client) switchLanguage(ctx context.Context, endpoint string, session Session, language string) (*Ack, error) {
	if language == "" {
		return nil, fmt.Errorf("language cannot be empty")
	}

	var res Ack
	if err := c.post(ctx, endpoint, session, languageRequest{Language: language}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
