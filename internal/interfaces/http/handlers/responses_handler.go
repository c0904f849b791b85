package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentrt/gateway/internal/domain/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ResponsesHandler implements C9/C10's external surface: POST /v1/responses,
// non-streaming and SSE, against the C8 turn runner. Grounded on
// OpenAIHandler's ChatCompletions/handleStream/handleNonStream split, with
// spec.md §6's Responses-API item shapes in place of OpenAI's chat-message
// shape.
type ResponsesHandler struct {
	runner *service.ResponsesRunner
	logger *zap.Logger
}

// NewResponsesHandler builds the /v1/responses handler around the C8 turn
// runner.
func NewResponsesHandler(runner *service.ResponsesRunner, logger *zap.Logger) *ResponsesHandler {
	return &ResponsesHandler{runner: runner, logger: logger}
}

// responsesInputItemDTO is the wire shape of one request input item (§6).
type responsesInputItemDTO struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID  string `json:"call_id,omitempty"`
}

// responsesRequestDTO is the wire shape of a POST /v1/responses body (§6).
type responsesRequestDTO struct {
	SessionID    string                  `json:"session_id"`
	UserRef      string                  `json:"user_ref"`
	Model        string                  `json:"model"`
	Instructions string                  `json:"instructions"`
	Tools        []string                `json:"tools"`
	Input        []responsesInputItemDTO `json:"input" binding:"required"`
	Stream       bool                    `json:"stream"`
}

type responsesOutputItemDTO struct {
	Type      string                 `json:"type"`
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type responsesResponseDTO struct {
	ID        string                   `json:"id"`
	SessionID string                   `json:"session_id"`
	Status    string                   `json:"status"`
	Output    []responsesOutputItemDTO `json:"output"`
	Usage     service.Usage            `json:"usage"`
}

// CreateResponse handles POST /v1/responses (§6).
func (h *ResponsesHandler) CreateResponse(c *gin.Context) {
	var req responsesRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "message": err.Error()}})
		return
	}

	runnerReq := service.ResponsesRequest{
		SessionID:    req.SessionID,
		UserRef:      req.UserRef,
		Instructions: req.Instructions,
		Model:        req.Model,
		ToolNames:    req.Tools,
		Input:        make([]service.ResponseInputItem, 0, len(req.Input)),
	}
	for _, it := range req.Input {
		runnerReq.Input = append(runnerReq.Input, service.ResponseInputItem{
			Type: it.Type, Role: it.Role, Content: it.Content, CallID: it.CallID,
		})
	}

	if req.Stream {
		h.stream(c, runnerReq)
		return
	}

	result, err := h.runner.Run(c.Request.Context(), runnerReq)
	if err != nil {
		h.logger.Warn("responses turn failed", zap.Error(err))
		c.JSON(http.StatusOK, responsesResponseDTO{
			SessionID: runnerReq.SessionID,
			Status:    string(service.StatusFailed),
		})
		return
	}

	c.JSON(http.StatusOK, toResponseDTO(result))
}

// stream mirrors CreateResponse's non-streaming path but emits the turn's
// lifecycle as Server-Sent Events: response.created, one
// response.output_text.delta per output text chunk (coarse-grained, since
// the runner itself is not yet token-streaming), and a terminal
// response.completed/incomplete/failed event followed by "[DONE]" (§6).
func (h *ResponsesHandler) stream(c *gin.Context, req service.ResponsesRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	writeSSE := func(event string, payload interface{}) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	writeSSE("response.created", gin.H{"session_id": req.SessionID})

	result, err := h.runner.Run(c.Request.Context(), req)
	if err != nil {
		writeSSE("response.failed", gin.H{"error": err.Error()})
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	for _, item := range result.Output {
		switch item.Type {
		case "message":
			writeSSE("response.output_text.delta", gin.H{"delta": item.Content})
			writeSSE("response.output_text.done", gin.H{"text": item.Content})
		case "function_call":
			writeSSE("response.function_call.done", gin.H{"call_id": item.CallID, "name": item.Name, "arguments": item.Arguments})
		}
	}

	writeSSE("response."+string(result.Status), toResponseDTO(result))
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func toResponseDTO(result *service.ResponsesResult) responsesResponseDTO {
	out := responsesResponseDTO{
		ID:        result.ResponseID,
		SessionID: result.SessionID,
		Status:    string(result.Status),
		Usage:     result.Usage,
	}
	for _, item := range result.Output {
		out.Output = append(out.Output, responsesOutputItemDTO{
			Type: item.Type, Role: item.Role, Content: item.Content,
			CallID: item.CallID, Name: item.Name, Arguments: item.Arguments,
		})
	}
	return out
}
