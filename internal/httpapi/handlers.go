package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/assistant"
	"github.com/fyrsmithlabs/navigatord/internal/chunker"
	"github.com/fyrsmithlabs/navigatord/internal/embeddings"
	"github.com/fyrsmithlabs/navigatord/internal/ingest"
	"github.com/fyrsmithlabs/navigatord/internal/prompt"
	"github.com/fyrsmithlabs/navigatord/internal/session"
)

// ChatRequest is the JSON body for POST /api/v1/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream,omitempty"`
}

// ChatCitation references a source document in a chat response.
type ChatCitation struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
}

// ChatResponse is the JSON body for a completed answer.
type ChatResponse struct {
	SessionID  string         `json:"session_id"`
	Text       string         `json:"text"`
	Citations  []ChatCitation `json:"citations,omitempty"`
	Groundable bool           `json:"groundable"`
	Escalated  bool           `json:"escalated"`
	Reason     string         `json:"reason,omitempty"`
	Confidence string         `json:"confidence"`
}

// ErrorResponse is the JSON body for any error status.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(c echo.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.duration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	}()

	var body ChatRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	req := assistant.Request{
		SessionID: body.SessionID,
		Role:      callerRole(c),
		Language:  c.Request().Header.Get(HeaderLanguage),
		Message:   body.Message,
	}

	if body.Stream {
		return s.streamChat(c, req)
	}

	resp, err := s.assistant.Answer(c.Request().Context(), req)
	if err != nil {
		return s.chatError(c, err)
	}
	s.observeAnswer(resp)
	return c.JSON(http.StatusOK, toChatResponse(resp))
}

// streamChat delivers the answer as server-sent events: "delta" events
// carry text increments, one final "done" event carries the full
// ChatResponse JSON.
func (s *Server) streamChat(c echo.Context, req assistant.Request) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	emit := func(chunk string) error {
		if _, err := fmt.Fprintf(res, "event: delta\ndata: %s\n\n", jsonString(chunk)); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	resp, err := s.assistant.AnswerStream(c.Request().Context(), req, emit)
	if err != nil {
		// Headers are gone; surface the error as a terminal event.
		fmt.Fprintf(res, "event: error\ndata: %s\n\n", jsonString(err.Error()))
		res.Flush()
		return nil
	}
	s.observeAnswer(resp)

	data, err := json.Marshal(toChatResponse(resp))
	if err != nil {
		return err
	}
	fmt.Fprintf(res, "event: done\ndata: %s\n\n", data)
	res.Flush()
	return nil
}

func (s *Server) observeAnswer(resp *assistant.Response) {
	s.metrics.queries.WithLabelValues(
		string(resp.Confidence),
		fmt.Sprintf("%t", resp.Groundable),
	).Inc()
	if resp.Escalated {
		s.metrics.escalations.WithLabelValues(string(resp.Reason)).Inc()
	}
}

// chatError maps caller errors to client statuses; everything else is a
// 500.
func (s *Server) chatError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "a message is already in flight on this session"})
	case errors.Is(err, session.ErrSessionExpired):
		return c.JSON(http.StatusGone, ErrorResponse{Error: "session expired, start a new one"})
	case errors.Is(err, embeddings.ErrInputTooLong):
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "message too long"})
	case errors.Is(err, prompt.ErrEmptyMessage), errors.Is(err, embeddings.ErrEmptyInput):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message is required"})
	default:
		s.logger.Error("chat request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// IngestRequest is the JSON body for POST /api/v1/documents.
type IngestRequest struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	ContentType string   `json:"content_type,omitempty"`
	Version     string   `json:"version,omitempty"`
	Content     string   `json:"content"`
	Roles       []string `json:"roles,omitempty"`
	Language    string   `json:"language,omitempty"`
}

// IngestResponse is the JSON body reporting an ingestion outcome.
type IngestResponse struct {
	DocumentID    string `json:"document_id"`
	Version       string `json:"version"`
	State         string `json:"state"`
	ChunksTotal   int    `json:"chunks_total"`
	ChunksIndexed int    `json:"chunks_indexed"`
	FailedChunks  []int  `json:"failed_chunks,omitempty"`
	NoOp          bool   `json:"no_op,omitempty"`
}

func (s *Server) handleIngest(c echo.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.duration.WithLabelValues("documents").Observe(time.Since(start).Seconds())
	}()

	var body IngestRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	doc := ingest.Document{
		ID:          body.ID,
		Source:      body.Source,
		ContentType: body.ContentType,
		Version:     body.Version,
		Tags: ingest.Tags{
			Roles:    body.Roles,
			Language: body.Language,
		},
	}

	report, err := s.pipeline.Ingest(c.Request().Context(), doc, body.Content)
	switch {
	case errors.Is(err, ingest.ErrUnsupportedContentType):
		return c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ingest.ErrInvalidConfig), errors.Is(err, chunker.ErrEmptyDocument):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if report == nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	s.metrics.ingests.WithLabelValues(string(report.State)).Inc()
	status := http.StatusCreated
	if report.State == ingest.StateFailed {
		// Partial progress is reported; the caller decides whether to
		// retry.
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, toIngestResponse(report))
}

// StatusResponse is the JSON body for GET /api/v1/documents/:id/status.
type StatusResponse struct {
	DocumentID string          `json:"document_id"`
	Versions   []VersionStatus `json:"versions"`
}

// VersionStatus reports one version's ingestion state.
type VersionStatus struct {
	Version       string `json:"version"`
	State         string `json:"state"`
	ChunksTotal   int    `json:"chunks_total"`
	ChunksIndexed int    `json:"chunks_indexed"`
	FailedChunks  []int  `json:"failed_chunks,omitempty"`
	Error         string `json:"error,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func (s *Server) handleDocumentStatus(c echo.Context) error {
	documentID := c.Param("id")

	versions, err := s.pipeline.Versions(c.Request().Context(), documentID)
	if err != nil {
		s.logger.Error("listing document status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	if len(versions) == 0 {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "document not found"})
	}

	resp := StatusResponse{DocumentID: documentID}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, VersionStatus{
			Version:       v.Version,
			State:         string(v.State),
			ChunksTotal:   v.ChunksTotal,
			ChunksIndexed: v.ChunksIndexed,
			FailedChunks:  v.FailedChunks,
			Error:         v.Error,
			UpdatedAt:     v.UpdatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func callerRole(c echo.Context) string {
	role := c.Request().Header.Get(HeaderRole)
	if role == "" {
		role = prompt.RoleGeneral
	}
	return role
}

func toChatResponse(resp *assistant.Response) ChatResponse {
	out := ChatResponse{
		SessionID:  resp.SessionID,
		Text:       resp.Text,
		Groundable: resp.Groundable,
		Escalated:  resp.Escalated,
		Confidence: string(resp.Confidence),
	}
	if resp.Escalated {
		out.Reason = string(resp.Reason)
	}
	for _, cit := range resp.Citations {
		out.Citations = append(out.Citations, ChatCitation{
			DocumentID: cit.DocumentID,
			Source:     cit.Source,
		})
	}
	return out
}

func toIngestResponse(report *ingest.Report) IngestResponse {
	return IngestResponse{
		DocumentID:    report.DocumentID,
		Version:       report.Version,
		State:         string(report.State),
		ChunksTotal:   report.ChunksTotal,
		ChunksIndexed: report.ChunksIndexed,
		FailedChunks:  report.FailedChunks,
		NoOp:          report.NoOp,
	}
}

// jsonString encodes a string as a JSON value for SSE data lines.
func jsonString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}
