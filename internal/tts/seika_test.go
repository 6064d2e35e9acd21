package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/chatsay/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *SeikaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ep, err := ResolveEndpoint(config.SeikaConfig{URL: strPtr(srv.URL), Username: strPtr("u"), Password: strPtr("p")})
	require.NoError(t, err)
	return NewSeikaClient(ep, 0)
}

func TestVoicesDecodesListing(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if r.Method != http.MethodGet || r.URL.Path != "/AVATOR2" || !ok || user != "u" || pass != "p" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `[{"cid":3001,"name":"紲星あかり","platform":"64","prod":"VOICEROID2"},{"cid":3002}]`)
	}))

	voices, err := client.Voices(context.Background())
	req.NoError(err)
	req.Len(voices, 2)
	req.Equal(Voice{ID: 3001, Name: "紲星あかり", Platform: "64", Product: "VOICEROID2"}, voices[0])
	req.Equal(3002, voices[1].ID)
}

func TestVoicesReportsStatusAndDecodeFailures(t *testing.T) {
	unauthorized := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := unauthorized.Voices(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.Code)

	garbage := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"not":"a list"}`)
	}))
	_, err = garbage.Voices(context.Background())
	require.ErrorContains(t, err, "decode voice list")
}

func TestPlayAsyncPostsTalkText(t *testing.T) {
	req := require.New(t)
	var (
		gotPath string
		gotBody map[string]any
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "1.23")
	}))

	status, err := client.PlayAsync(context.Background(), 3001, SpeechRequest{Text: "＞ alice: こんにちは"})
	req.NoError(err)
	req.Equal(http.StatusOK, status)
	req.Equal("/PLAYASYNC2/3001", gotPath)
	req.Equal(map[string]any{"talktext": "＞ alice: こんにちは"}, gotBody)
}

func TestPlayAsyncErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	status, err := client.PlayAsync(context.Background(), 1, SpeechRequest{Text: "x"})
	require.Equal(t, http.StatusInternalServerError, status)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestSpeechRequestWireLabels(t *testing.T) {
	data, err := json.Marshal(SpeechRequest{
		Text:     "hi",
		Effects:  &Effects{Speed: 1, Volume: 1, Pitch: 1, Intonation: 1},
		Emotions: &Emotions{Anger: 0.1, Joy: 0.2, Sadness: 0.3},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"talktext": "hi",
		"effects": {"speed": 1, "volume": 1, "pitch": 1, "intonation": 1},
		"emotions": {"怒り": 0.1, "喜び": 0.2, "悲しみ": 0.3}
	}`, string(data))
}
