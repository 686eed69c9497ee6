package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 2*time.Second, logger.NewTestLogger(t))
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestClient_TranslateAndSpeak(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := decodeBody(t, r)
		switch r.URL.Path {
		case "/translate":
			assert.Equal(t, "es", body["target_language"])
			_, _ = w.Write([]byte(`{"translated_text":"hola"}`))
		case "/tts":
			assert.Equal(t, "hola", body["text"])
			assert.Equal(t, "es", body["language"])
			_, _ = w.Write([]byte(`{"audio_url":"http://speech/temp/a.mp3"}`))
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	text, err := c.Translate(ctx, "hello", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", text)

	url, err := c.Speak(ctx, text, "es")
	require.NoError(t, err)
	assert.Equal(t, "http://speech/temp/a.mp3", url)
}

func TestClient_Transcribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "en", r.FormValue("target_language"))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "recorded_audio.mp3", header.Filename)
		assert.Equal(t, "audio/mp3", header.Header.Get("Content-Type"))
		assert.Equal(t, "audio-bytes", string(data))
		_, _ = w.Write([]byte(`{"native_text":"tengo trabajo","english_text":"I have a job","detected_language":"es"}`))
	})

	tr, err := c.Transcribe(context.Background(), strings.NewReader("audio-bytes"), "", "en")
	require.NoError(t, err)
	assert.Equal(t, "I have a job", tr.EnglishText)
	assert.Equal(t, "es", tr.DetectedLanguage)
}

func TestClient_FillFormAndAsk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		switch r.URL.Path {
		case "/send-to-gemini":
			assert.Equal(t, map[string]interface{}{"Do you have a job?": "Answer Yes or No"}, body["prompt"])
			assert.Equal(t, map[string]interface{}{}, body["form_data"])
			_, _ = w.Write([]byte(`{"filled_form":{"Do you have a job?":"Yes"},"additional_requests":[]}`))
		case "/chat":
			assert.Equal(t, "where is my application?", body["transcription"])
			_, _ = w.Write([]byte(`{"response":"It is being reviewed."}`))
		}
	})

	ctx := context.Background()
	form, err := c.FillForm(ctx, "Do you have a job?", "Answer Yes or No", "I work at a bakery")
	require.NoError(t, err)
	assert.Equal(t, "Yes", form.FilledForm["Do you have a job?"])

	reply, err := c.Ask(ctx, "where is my application?")
	require.NoError(t, err)
	assert.Equal(t, "It is being reviewed.", reply)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Language xx not supported by TTS"}`, http.StatusBadRequest)
	})
	ctx := context.Background()

	_, err := c.Speak(ctx, "hello", "xx")
	require.Error(t, err)
	stdErr, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeExternalService, stdErr.Code)
	assert.Contains(t, stdErr.Details, "not supported")

	_, err = c.Translate(ctx, " ", "es")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	_, err = c.Ask(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	_, err = c.Transcribe(ctx, nil, "", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}
