// Package stt adapts speech-to-text vendors to the orchestrator.Transcriber
// contract.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/duplexai/duplexcore/pkg/audio"
	"github.com/duplexai/duplexcore/pkg/orchestrator"
)

// GroqTranscriber adapts Groq's batch Whisper endpoint to the streaming
// Transcriber contract (§4.6). Groq has no incremental/partial API, so
// inbound PCM is accumulated per session and flushed as a single Final
// chunk once chunkBytes worth has arrived, grounded on the teacher's
// GroqSTT.Transcribe request shape (multipart WAV upload, bearer auth).
type GroqTranscriber struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	chunkBytes int
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[orchestrator.SessionID]*groqSession
}

type groqSession struct {
	mu      sync.Mutex
	buf     []byte
	onChunk func(orchestrator.TranscriptChunk)
}

func NewGroqTranscriber(apiKey, model string) *GroqTranscriber {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqTranscriber{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: 16000,
		chunkBytes: 16000 * 2 * 2, // ~2s of 16kHz mono 16-bit PCM
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   make(map[orchestrator.SessionID]*groqSession),
	}
}

// SetSampleRate overrides the WAV header's sample rate, mirroring the
// teacher's GroqSTT.SetSampleRate.
func (g *GroqTranscriber) SetSampleRate(rate int) {
	g.sampleRate = rate
}

// SetChunkDuration overrides how much audio accumulates per session before
// a transcription request fires.
func (g *GroqTranscriber) SetChunkDuration(d time.Duration) {
	bytesPerSecond := g.sampleRate * 2
	g.chunkBytes = int(d.Seconds() * float64(bytesPerSecond))
	if g.chunkBytes <= 0 {
		g.chunkBytes = 1
	}
}

func (g *GroqTranscriber) sessionFor(id orchestrator.SessionID) *groqSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		s = &groqSession{}
		g.sessions[id] = s
	}
	return s
}

// FeedAudio accumulates frame into the session's rolling buffer and, once
// enough audio has arrived, transcribes it synchronously and delivers the
// result to the registered subscriber as a Final chunk.
func (g *GroqTranscriber) FeedAudio(ctx context.Context, sessionID orchestrator.SessionID, frame []byte) error {
	s := g.sessionFor(sessionID)

	s.mu.Lock()
	s.buf = append(s.buf, frame...)
	var pending []byte
	if len(s.buf) >= g.chunkBytes {
		pending = s.buf
		s.buf = nil
	}
	cb := s.onChunk
	s.mu.Unlock()

	if pending == nil {
		return nil
	}

	text, err := g.transcribe(ctx, pending)
	if err != nil {
		return fmt.Errorf("groq transcribe: %w", err)
	}
	if cb != nil && text != "" {
		cb(orchestrator.TranscriptChunk{Kind: orchestrator.TranscriptFinalKind, Text: text, Confidence: 1.0})
	}
	return nil
}

// Subscribe registers onChunk for sessionID until the returned cancel func
// runs.
func (g *GroqTranscriber) Subscribe(sessionID orchestrator.SessionID, onChunk func(orchestrator.TranscriptChunk)) func() {
	s := g.sessionFor(sessionID)
	s.mu.Lock()
	s.onChunk = onChunk
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.onChunk = nil
		s.mu.Unlock()
		g.mu.Lock()
		delete(g.sessions, sessionID)
		g.mu.Unlock()
	}
}

func (g *GroqTranscriber) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wavData := audio.NewWavBuffer(pcm, g.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", g.model); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
