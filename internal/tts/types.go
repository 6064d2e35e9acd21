package tts

import (
	"context"
	"fmt"
	"net/http"
)

// Voice describes one entry of the SeikaSay2 AVATOR2 listing.
type Voice struct {
	ID       int    `json:"cid"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Product  string `json:"prod,omitempty"`
}

// SpeechRequest is the PLAYASYNC2 body. Effects and Emotions are left nil
// unless a caller wants to override the voice's own settings.
type SpeechRequest struct {
	Text     string    `json:"talktext"`
	Effects  *Effects  `json:"effects,omitempty"`
	Emotions *Emotions `json:"emotions,omitempty"`
}

type Effects struct {
	Speed      float64 `json:"speed"`
	Volume     float64 `json:"volume"`
	Pitch      float64 `json:"pitch"`
	Intonation float64 `json:"intonation"`
}

// Emotions uses the labels SeikaSay2 expects on the wire.
type Emotions struct {
	Anger   float64 `json:"怒り"`
	Joy     float64 `json:"喜び"`
	Sadness float64 `json:"悲しみ"`
}

// Speaker is the contract for an actuation server.
type Speaker interface {
	Voices(ctx context.Context) ([]Voice, error)
	PlayAsync(ctx context.Context, voiceID int, req SpeechRequest) (int, error)
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}
