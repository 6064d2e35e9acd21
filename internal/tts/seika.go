package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	pathVoices    = "AVATOR2"
	pathPlayAsync = "PLAYASYNC2/"
)

// SeikaClient talks to an AssistantSeika SeikaSay2 HTTP server.
type SeikaClient struct {
	endpoint Endpoint
	http     *http.Client
}

// NewSeikaClient builds a client for endpoint. A zero timeout leaves requests
// bounded only by their context.
func NewSeikaClient(endpoint Endpoint, timeout time.Duration) *SeikaClient {
	return &SeikaClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *SeikaClient) Endpoint() Endpoint { return c.endpoint }

// Voices lists the voices the server offers, in server order.
func (c *SeikaClient) Voices(ctx context.Context) ([]Voice, error) {
	target := c.endpoint.Resolve(pathVoices).String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.endpoint.Username, c.endpoint.Password)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Method: http.MethodGet, URL: target, Code: resp.StatusCode}
	}

	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decode voice list: %w", err)
	}
	return voices, nil
}

// PlayAsync asks the server to speak req with voiceID without waiting for
// playback to finish. It returns the HTTP status when a response arrived.
func (c *SeikaClient) PlayAsync(ctx context.Context, voiceID int, req SpeechRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	target := c.endpoint.Resolve(pathPlayAsync + strconv.Itoa(voiceID)).String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.endpoint.Username, c.endpoint.Password)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{Method: http.MethodPost, URL: target, Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
