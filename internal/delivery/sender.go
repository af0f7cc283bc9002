package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	neturl "net/url"
	"strings"
	"time"

	"github.com/shohag/chatrelay/internal/models"
)

const (
	userAgent       = "ChatRelay/1.0"
	maxResponseBody = 64 * 1024
)

type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	LatencyMs  int64
}

// Sender performs the outbound calls against webhook URLs. Callers bound each
// call with their own context deadline; the client timeout is a backstop.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewSenderWithHTTPClient creates a sender with a custom HTTP client.
func NewSenderWithHTTPClient(client *http.Client) *Sender {
	return &Sender{client: client}
}

// Probe issues a GET against a webhook URL, which describes the webhook.
func (s *Sender) Probe(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	return s.do(req)
}

// Send posts content and files to a webhook URL as multipart/form-data.
func (s *Sender) Send(ctx context.Context, url, content string, files []models.Attachment) (*Result, error) {
	body, contentType, err := buildMultipart(content, files)
	if err != nil {
		return nil, fmt.Errorf("building payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	return s.do(req)
}

func (s *Sender) do(req *http.Request) (*Result, error) {
	start := time.Now()

	resp, err := s.client.Do(req)
	if err != nil {
		// *url.Error repeats the URL, and webhook URLs embed their token.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%s request failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildMultipart(content string, files []models.Attachment) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return nil, "", err
		}
	}

	for i, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename="%s"`, i, quoteEscaper.Replace(f.Filename)))
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
