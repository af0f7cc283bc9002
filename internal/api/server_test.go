package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/chatrelay/internal/config"
	"github.com/shohag/chatrelay/internal/delivery"
	"github.com/shohag/chatrelay/internal/relay"
	"github.com/shohag/chatrelay/internal/storage"
)

// discordStub answers webhook GETs and POSTs the way Discord does.
type discordStub struct {
	mu         sync.Mutex
	probeCode  int
	postCode   int
	postBody   string
	gotContent string
	gotFiles   []string
}

func (d *discordStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if d.probeCode != 0 {
			w.WriteHeader(d.probeCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"123","name":"Relay","avatar":"abc","channel_id":"555"}`)
	case http.MethodPost:
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			d.gotContent = r.FormValue("content")
			for name, fhs := range r.MultipartForm.File {
				for _, fh := range fhs {
					d.gotFiles = append(d.gotFiles, name+"="+fh.Filename)
				}
			}
		}
		if d.postCode != 0 {
			w.WriteHeader(d.postCode)
			io.WriteString(w, d.postBody)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (d *discordStub) failProbe(code int) {
	d.mu.Lock()
	d.probeCode = code
	d.mu.Unlock()
}

func (d *discordStub) failPost(code int, body string) {
	d.mu.Lock()
	d.postCode, d.postBody = code, body
	d.mu.Unlock()
}

func (d *discordStub) received() (string, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gotContent, append([]string(nil), d.gotFiles...)
}

type stubReader struct{}

func (stubReader) Channel(_ context.Context, id string) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildText}, nil
}

func (stubReader) Permissions(context.Context, string) (int64, error) {
	return discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory, nil
}

func (stubReader) Messages(_ context.Context, _ string, _ int) ([]*discordgo.Message, error) {
	return []*discordgo.Message{{
		ID:        "9",
		Content:   "hello",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Author:    &discordgo.User{ID: "1", Username: "alice"},
	}}, nil
}

type testEnv struct {
	handler    http.Handler
	discord    *discordStub
	webhookURL string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stub := &discordStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Discord: config.DiscordConfig{
			WebhookPrefix: []string{srv.URL + "/api/webhooks/"},
			DefaultAvatar: "https://cdn.discordapp.com/embed/avatars/0.png",
		},
		Validation: config.ValidationConfig{
			Cooldown:     5 * time.Second,
			Timeout:      5 * time.Second,
			MaxRetryWait: time.Second,
		},
		Relay: config.RelayConfig{
			Timeout:     5 * time.Second,
			MaxFileSize: 1024,
			MaxFiles:    2,
			FetchLimit:  50,
		},
	}

	svc := relay.NewService(relay.OptionsFromConfig(cfg), storage.NewMemory(), nil,
		delivery.NewSenderWithHTTPClient(srv.Client()), stubReader{}, zerolog.Nop())

	return &testEnv{
		handler:    NewServer(cfg, svc, zerolog.Nop()).Handler(),
		discord:    stub,
		webhookURL: srv.URL + "/api/webhooks/123/abc",
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addWebhook(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"url": url})
	return e.do(t, http.MethodPost, "/add-webhook", bytes.NewReader(body), "application/json")
}

type sendForm struct {
	webhookID string
	content   string
	files     map[string][]byte
	fieldName string
}

func (e *testEnv) send(t *testing.T, f sendForm) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if f.webhookID != "" {
		mw.WriteField("webhookId", f.webhookID)
	}
	if f.content != "" {
		mw.WriteField("content", f.content)
	}
	field := f.fieldName
	if field == "" {
		field = "files"
	}
	for name, data := range f.files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		fw.Write(data)
	}
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/send-message", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestAddWebhook(t *testing.T) {
	env := newTestEnv(t)

	rec := env.addWebhook(t, env.webhookURL)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[struct {
		Endpoint struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatarUrl"`
			ChannelID string `json:"channelId"`
		} `json:"endpoint"`
		PrivacyNotice string `json:"privacyNotice"`
	}](t, rec)
	assert.Equal(t, "123", resp.Endpoint.ID)
	assert.Equal(t, "Relay", resp.Endpoint.Name)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/123/abc.png", resp.Endpoint.AvatarURL)
	assert.Equal(t, "555", resp.Endpoint.ChannelID)
	assert.Equal(t, relay.PrivacyNotice, resp.PrivacyNotice)

	rec = env.addWebhook(t, env.webhookURL)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_endpoint", decode[errorResponse](t, rec).Code)
}

func TestAddWebhookRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/add-webhook", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.addWebhook(t, "https://example.com/hook")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_format", decode[errorResponse](t, rec).Code)
}

func TestAddWebhookValidationFailureThenCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.discord.failProbe(http.StatusUnauthorized)

	rec := env.addWebhook(t, env.webhookURL)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, "invalid_webhook", resp.Code)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	rec = env.addWebhook(t, env.webhookURL)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp = decode[errorResponse](t, rec)
	assert.Equal(t, "too_many_attempts", resp.Code)
	assert.Positive(t, resp.RetryAfter)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/webhooks", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	require.Equal(t, http.StatusOK, env.addWebhook(t, env.webhookURL).Code)

	rec = env.do(t, http.MethodGet, "/webhook/123", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/webhooks", nil, "")
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/webhook/123/attempts", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/webhook/123", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/webhook/123", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/webhook/123", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.addWebhook(t, env.webhookURL).Code)

	rec := env.send(t, sendForm{
		webhookID: "123",
		content:   "hi",
		files:     map[string][]byte{"note.txt": []byte("hello")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	content, files := env.discord.received()
	assert.Equal(t, "hi", content)
	assert.Equal(t, []string{"files[0]=note.txt"}, files)
}

func TestSendMessageSingleFileField(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.addWebhook(t, env.webhookURL).Code)

	rec := env.send(t, sendForm{
		webhookID: "123",
		fieldName: "file",
		files:     map[string][]byte{"a.txt": []byte("a")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, files := env.discord.received()
	assert.Equal(t, []string{"files[0]=a.txt"}, files)
}

func TestSendMessageErrors(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.addWebhook(t, env.webhookURL).Code)

	tests := []struct {
		name     string
		form     sendForm
		wantCode int
		wantKind string
	}{
		{"missing webhook id", sendForm{content: "hi"}, http.StatusBadRequest, ""},
		{"empty message", sendForm{webhookID: "123"}, http.StatusBadRequest, "empty_message"},
		{"unknown webhook", sendForm{webhookID: "999", content: "hi"}, http.StatusNotFound, "not_found"},
		{"file too large", sendForm{webhookID: "123", files: map[string][]byte{"big.bin": make([]byte, 2048)}}, http.StatusRequestEntityTooLarge, "attachment_too_large"},
		{"too many files", sendForm{webhookID: "123", files: map[string][]byte{"a": {1}, "b": {2}, "c": {3}}}, http.StatusRequestEntityTooLarge, "too_many_attachments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.send(t, tt.form)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, decode[errorResponse](t, rec).Code)
			}
		})
	}
}

func TestSendMessageRemoteFailure(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.addWebhook(t, env.webhookURL).Code)

	env.discord.failPost(http.StatusBadGateway, "upstream down")

	rec := env.send(t, sendForm{webhookID: "123", content: "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, "relay_failed", resp.Code)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.Equal(t, "upstream down", resp.Details)

	rec = env.do(t, http.MethodGet, "/webhook/123/attempts", nil, "")
	assert.Len(t, decode[[]map[string]any](t, rec), 0, "no journal configured")
}

func TestFetchMessages(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/messages/not-a-number", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_channel", decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/messages/42", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{
		"id": "9",
		"content": "hello",
		"author": {"username": "alice", "avatarUrl": "https://cdn.discordapp.com/embed/avatars/0.png"},
		"timestamp": "2024-05-01T10:00:00.000Z",
		"embeds": [],
		"attachments": []
	}]`, rec.Body.String())
}

func TestStatusForCoversEveryKind(t *testing.T) {
	kinds := map[relay.Kind]int{
		relay.KindInvalidFormat:      http.StatusBadRequest,
		relay.KindDuplicateEndpoint:  http.StatusBadRequest,
		relay.KindEmptyMessage:       http.StatusBadRequest,
		relay.KindInvalidChannel:     http.StatusBadRequest,
		relay.KindTooManyAttempts:    http.StatusTooManyRequests,
		relay.KindRateLimited:        http.StatusTooManyRequests,
		relay.KindInvalidWebhook:     http.StatusTooManyRequests,
		relay.KindNotFound:           http.StatusNotFound,
		relay.KindChannelNotFound:    http.StatusNotFound,
		relay.KindAttachmentTooLarge: http.StatusRequestEntityTooLarge,
		relay.KindTooManyAttachments: http.StatusRequestEntityTooLarge,
		relay.KindForbidden:          http.StatusForbidden,
		relay.KindRelayFailed:        http.StatusInternalServerError,
		relay.KindFetchFailed:        http.StatusInternalServerError,
	}
	for kind, want := range kinds {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
