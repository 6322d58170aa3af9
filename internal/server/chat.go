package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatrelay/internal/convert"
	"chatrelay/internal/openai"
	"chatrelay/internal/stream"
	"chatrelay/internal/upstream"
)

// defaultTemperature is sent when the client omits the field; the vendor
// requires it.
const defaultTemperature = 0.7

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req openai.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if len(req.Messages) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "messages must not be empty",
			Type:    "invalid_request_error",
		}
	}

	ctx := c.Request().Context()

	identity := s.catalog.Identity(req.Model)
	messages, systemPrompt := convert.Messages(req.Messages)

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	vendorReq := upstream.ChatRequest{
		Model:        identity.Model,
		Provider:     identity.Provider,
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
		Locale:       s.client.Locale(),
		Source:       s.client.Source(),
		ThreadID:     uuid.NewString(),
		Tools:        []json.RawMessage{},
		Stream:       req.Stream,
	}

	start := time.Now()
	resp, err := s.client.Chat(ctx, vendorReq)
	if err != nil {
		return toGatewayError(err)
	}
	defer resp.Body.Close()
	if s.metrics != nil {
		s.metrics.RecordUpstreamLatency(time.Since(start).Seconds())
	}

	model := req.Model
	if model == "" {
		model = identity.Model
	}

	if req.Stream {
		return s.streamCompletion(c, model, resp.Body)
	}

	content, err := stream.Collect(resp.Body, s.logger)
	if err != nil {
		s.logger.Error("reading upstream response failed", "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to read upstream response",
			Type:    "relay_error",
		}
	}

	return c.JSON(http.StatusOK, openai.NewCompletion(model, content))
}

// streamCompletion re-emits the vendor stream as OpenAI chunk events. The
// chunk id is minted once and shared by every chunk of this response.
func (s *Server) streamCompletion(c echo.Context, model string, body io.Reader) error {
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		s.logger.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	id := openai.NewCompletionID()
	emit := func(delta string, finish *string) error {
		chunk := openai.NewChunk(id, model, delta, finish)
		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if _, err := fmt.Fprintf(res.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		if s.metrics != nil {
			s.metrics.RecordStreamChunk()
		}
		return nil
	}

	err := stream.Relay(c.Request().Context(), body, emit, s.logger)

	var writeErr *stream.WriteError
	switch {
	case errors.As(err, &writeErr):
		// Downstream is gone: stop reading upstream (the deferred body
		// close releases it) and never write the terminator.
		s.logger.Warn("client disconnected mid-stream", "error", writeErr.Err)
		return nil
	case err != nil:
		// Upstream broke mid-stream. Returning the error closes the
		// connection without a terminator so the client sees truncation.
		s.logger.Error("upstream stream failed", "error", err)
		return err
	}

	if _, err := fmt.Fprint(res.Writer, "data: [DONE]\n\n"); err != nil {
		s.logger.Warn("failed to write stream terminator", "error", err)
		return nil
	}
	flusher.Flush()
	return nil
}
