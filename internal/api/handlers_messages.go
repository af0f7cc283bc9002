package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/config"
	"github.com/shohag/chatrelay/internal/models"
	"github.com/shohag/chatrelay/internal/relay"
)

const (
	// multipartOverhead covers form fields and part headers on top of file data.
	multipartOverhead = 1 << 20
	// maxMemory is what ParseMultipartForm keeps in memory before spilling to disk.
	maxMemory = 32 << 20
)

type MessageHandler struct {
	svc    *relay.Service
	limits config.RelayConfig
	log    zerolog.Logger
}

func NewMessageHandler(svc *relay.Service, limits config.RelayConfig, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, limits: limits, log: log}
}

// Send relays a multipart message: webhookId, optional content and file parts
// named "files" or "file".
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody())
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeRelayError(w, h.log, relay.ErrAttachmentTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	webhookID := strings.TrimSpace(r.FormValue("webhookId"))
	if webhookID == "" {
		writeError(w, http.StatusBadRequest, "webhookId is required")
		return
	}

	files, err := h.readFiles(r.MultipartForm)
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}

	if err := h.svc.Send(r.Context(), webhookID, r.FormValue("content"), files); err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Fetch returns the newest messages of a channel the bot can read.
func (h *MessageHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.FetchRecent(r.Context(), chi.URLParam(r, "channelId"))
	if err != nil {
		writeRelayError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) maxBody() int64 {
	return int64(h.limits.MaxFiles)*h.limits.MaxFileSize + multipartOverhead
}

func (h *MessageHandler) readFiles(form *multipart.Form) ([]models.Attachment, error) {
	var headers []*multipart.FileHeader
	for _, name := range []string{"files", "file"} {
		headers = append(headers, form.File[name]...)
	}
	if len(headers) > h.limits.MaxFiles {
		return nil, &relay.Error{Kind: relay.KindTooManyAttachments, Detail: fmt.Sprintf("at most %d files", h.limits.MaxFiles)}
	}

	files := make([]models.Attachment, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > h.limits.MaxFileSize {
			return nil, &relay.Error{Kind: relay.KindAttachmentTooLarge, Detail: fh.Filename}
		}
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		files = append(files, models.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
