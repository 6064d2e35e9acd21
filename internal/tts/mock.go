package tts

import (
	"context"
	"net/http"
	"sync"
)

// Spoken is one request captured by MockSpeaker.
type Spoken struct {
	VoiceID int
	Request SpeechRequest
}

// MockSpeaker stands in for a SeikaSay2 server in dry runs and tests.
type MockSpeaker struct {
	mu      sync.Mutex
	voices  []Voice
	spoken  []Spoken
	failing error
}

func NewMockSpeaker(voices ...Voice) *MockSpeaker {
	if len(voices) == 0 {
		voices = []Voice{{ID: 2000, Name: "mock", Platform: "mock", Product: "chatsay"}}
	}
	return &MockSpeaker{voices: voices}
}

// FailWith makes every later PlayAsync return err.
func (m *MockSpeaker) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

func (m *MockSpeaker) Voices(ctx context.Context) ([]Voice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...), nil
}

func (m *MockSpeaker) PlayAsync(ctx context.Context, voiceID int, req SpeechRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, Spoken{VoiceID: voiceID, Request: req})
	if m.failing != nil {
		return 0, m.failing
	}
	return http.StatusOK, nil
}

// Spoken returns a copy of everything played so far, in call order.
func (m *MockSpeaker) Spoken() []Spoken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Spoken(nil), m.spoken...)
}
