// Package speech is the client of the language service used by the voice
// screening interview: translation, text to speech, transcription, form
// filling and the home page assistant.
package speech

import (
	"context"
	"io"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"
	porthttp "case-portal/internal/common/http"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
)

const (
	component   = "speech"
	serviceName = "speech"

	DefaultAudioFileName = "recorded_audio.mp3"
)

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type ttsResponse struct {
	AudioURL string `json:"audio_url"`
}

// Transcription is what the service heard in a recording.
type Transcription struct {
	NativeText       string `json:"native_text"`
	EnglishText      string `json:"english_text"`
	DetectedLanguage string `json:"detected_language"`
}

type fillRequest struct {
	Prompt        map[string]string      `json:"prompt"`
	Transcription string                 `json:"transcription"`
	FormData      map[string]interface{} `json:"form_data"`
}

// FilledForm is the form-filling answer for one or more questions.
type FilledForm struct {
	FilledForm         map[string]string `json:"filled_form"`
	AdditionalRequests []string          `json:"additional_requests"`
}

type chatRequest struct {
	Transcription string `json:"transcription"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type Client struct {
	http   *porthttp.Client
	logger logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		http:   porthttp.NewClient(baseURL, timeout),
		logger: log.WithFields(map[string]interface{}{"component": component}),
	}
}

// Translate renders text in targetLanguage.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (out string, err error) {
	defer func() { metrics.RecordOperation(component, "translate", err) }()

	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("text is required")
	}
	var resp translateResponse
	if err := c.http.PostJSON(ctx, "/translate", translateRequest{Text: text, TargetLanguage: targetLanguage}, &resp); err != nil {
		return "", c.failed("translate", err)
	}
	return resp.TranslatedText, nil
}

// Speak returns the URL of spoken audio for text.
func (c *Client) Speak(ctx context.Context, text, language string) (url string, err error) {
	defer func() { metrics.RecordOperation(component, "tts", err) }()

	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("text is required")
	}
	var resp ttsResponse
	if err := c.http.PostJSON(ctx, "/tts", ttsRequest{Text: text, Language: language}, &resp); err != nil {
		return "", c.failed("tts", err)
	}
	return resp.AudioURL, nil
}

// Transcribe uploads a recorded answer. fileName defaults to
// DefaultAudioFileName.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, fileName, targetLanguage string) (t *Transcription, err error) {
	defer func() { metrics.RecordOperation(component, "transcribe", err) }()

	if audio == nil {
		return nil, apperrors.NewValidationError("audio is required")
	}
	if fileName == "" {
		fileName = DefaultAudioFileName
	}
	fields := map[string]string{}
	if targetLanguage != "" {
		fields["target_language"] = targetLanguage
	}
	var resp Transcription
	err = c.http.PostMultipart(ctx, "/transcribe", fields, []porthttp.FilePart{{
		Field:       "file",
		FileName:    fileName,
		ContentType: "audio/mp3",
		Body:        audio,
	}}, &resp)
	if err != nil {
		return nil, c.failed("transcribe", err)
	}
	return &resp, nil
}

// FillForm asks the service to answer question from transcription using the
// question's prompt.
func (c *Client) FillForm(ctx context.Context, question, prompt, transcription string) (form *FilledForm, err error) {
	defer func() { metrics.RecordOperation(component, "send_to_gemini", err) }()

	req := fillRequest{
		Prompt:        map[string]string{question: prompt},
		Transcription: transcription,
		FormData:      map[string]interface{}{},
	}
	var resp FilledForm
	if err := c.http.PostJSON(ctx, "/send-to-gemini", req, &resp); err != nil {
		return nil, c.failed("send-to-gemini", err)
	}
	return &resp, nil
}

// Ask sends a message to the assistant shown on the home page.
func (c *Client) Ask(ctx context.Context, message string) (reply string, err error) {
	defer func() { metrics.RecordOperation(component, "chat", err) }()

	if strings.TrimSpace(message) == "" {
		return "", apperrors.NewValidationError("message is required")
	}
	var resp chatResponse
	if err := c.http.PostJSON(ctx, "/chat", chatRequest{Transcription: message}, &resp); err != nil {
		return "", c.failed("chat", err)
	}
	return resp.Response, nil
}

func (c *Client) failed(endpoint string, err error) error {
	c.logger.Error("speech service call failed", map[string]interface{}{
		"endpoint": endpoint,
		"error":    err,
	})
	return apperrors.NewExternalServiceError(serviceName+" "+endpoint, err)
}
