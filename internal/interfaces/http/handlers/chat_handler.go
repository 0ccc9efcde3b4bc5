package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/dialect/openai"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/upstream"
	"github.com/Baozhi888/zai2api-go/pkg/safego"
)

// ChatHandler implements the OpenAI Chat Completions dialect:
// POST /v1/chat/completions. GET /v1/models is served by ModelsHandler.
type ChatHandler struct {
	upstreamClient *upstream.Client
	transformer    *service.RequestTransformer
	reasoningMode  entity.ReasoningMode
	defaultModel   string
	monitor        *monitoring.Monitor
	tracer         *monitoring.Tracer
	logger         *zap.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(client *upstream.Client, transformer *service.RequestTransformer, reasoningMode entity.ReasoningMode, defaultModel string, monitor *monitoring.Monitor, tracer *monitoring.Tracer, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		upstreamClient: client,
		transformer:    transformer,
		reasoningMode:  reasoningMode,
		defaultModel:   defaultModel,
		monitor:        monitor,
		tracer:         tracer,
		logger:         logger.With(zap.String("component", "chat-handler")),
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	ctx, span := h.tracer.StartSpan(c.Request.Context(), "chat.completions")
	monitoring.SetAttribute(span, "dialect", "openai")
	var spanErr error
	defer func() { h.tracer.EndSpan(span, spanErr) }()
	c.Request = c.Request.WithContext(ctx)

	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		spanErr = err
		writeDialectError(c, service.NewRelayError(service.KindInvalidRequest, err.Error(), nil), dialectOpenAI)
		return
	}
	if len(req.Messages) == 0 {
		spanErr = fmt.Errorf("messages array must not be empty")
		writeDialectError(c, service.NewRelayError(service.KindInvalidRequest, "messages array must not be empty", nil), dialectOpenAI)
		return
	}
	monitoring.SetAttribute(span, "model", req.Model)

	relayReq := openai.ToRelayRequest(req, h.reasoningMode)
	relayReq = h.transformer.Transform(relayReq)

	h.monitor.IncRequestTotal()
	h.monitor.IncUpstreamCall()

	body, err := buildUpstreamBody(relayReq)
	if err != nil {
		spanErr = err
		h.monitor.IncRequestFailed()
		writeDialectError(c, service.NewRelayError(service.KindInternalError, "failed to encode upstream request", err), dialectOpenAI)
		return
	}

	frames, err := h.upstreamClient.StreamChat(c.Request.Context(), body)
	if err != nil {
		spanErr = err
		h.monitor.IncRequestFailed()
		h.monitor.IncUpstreamError()
		writeDialectError(c, err, dialectOpenAI)
		return
	}

	engine := service.NewEngine(h.reasoningMode, h.logger)
	events := make(chan entity.OutboundEvent, 32)

	if req.Stream {
		h.streamResponse(c, req.Model, engine, frames, events)
		return
	}
	h.nonStreamResponse(c, req.Model, engine, frames, events)
}

func (h *ChatHandler) streamResponse(c *gin.Context, model string, engine *service.Engine, frames <-chan entity.UpstreamFrame, events chan entity.OutboundEvent) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	h.monitor.IncStreamTotal()

	errCh := make(chan error, 1)
	safego.Go(h.logger, "chat-engine-run", func() {
		var runErr error
		defer func() {
			close(events)
			errCh <- runErr
		}()
		runErr = engine.Run(c.Request.Context(), frames, events)
	})

	writer := openai.NewStreamWriter(c.Writer, model)
	for ev := range drainUntilClosed(events, errCh) {
		if err := writer.Write(ev); err != nil {
			h.logger.Warn("failed writing stream chunk", zap.Error(err))
			break
		}
		c.Writer.Flush()
		if ev.Kind == entity.EventErr {
			h.monitor.IncStreamAborted()
		}
	}
	_ = writer.WriteDone()
	c.Writer.Flush()
	h.monitor.IncRequestSuccess()
}

func (h *ChatHandler) nonStreamResponse(c *gin.Context, model string, engine *service.Engine, frames <-chan entity.UpstreamFrame, events chan entity.OutboundEvent) {
	errCh := make(chan error, 1)
	safego.Go(h.logger, "chat-engine-run", func() {
		var runErr error
		defer func() {
			close(events)
			errCh <- runErr
		}()
		runErr = engine.Run(c.Request.Context(), frames, events)
	})

	finalizer := service.NewFinalizer()
	var finishReason string
	var prompt, completion, total int
	var usageExplicit bool
	var toolCalls []openai.ToolCall
	var relayErr error

	for ev := range drainUntilClosed(events, errCh) {
		finalizer.Apply(ev)
		switch ev.Kind {
		case entity.EventToolOpen:
			toolCalls = append(toolCalls, openai.ToolCall{Index: ev.ToolIndex, ID: ev.ToolID, Type: "function", Function: openai.ToolCallFunc{Name: ev.ToolName}})
		case entity.EventFinish:
			finishReason = ev.FinishReason
			prompt, completion, total = ev.PromptTokens, ev.CompletionTokens, ev.TotalTokens
			usageExplicit = ev.UsageIsExplicit
		case entity.EventErr:
			relayErr = service.NewRelayError(service.KindInternalError, ev.ErrMessage, nil)
		}
	}

	if relayErr != nil {
		h.monitor.IncRequestFailed()
		writeDialectError(c, relayErr, dialectOpenAI)
		return
	}

	result := finalizer.Result(finishReason, prompt, completion, total, usageExplicit)
	for i := range toolCalls {
		for _, tc := range result.ToolCalls {
			if tc.Index == toolCalls[i].Index {
				toolCalls[i].Function.Arguments = tc.ArgumentsBuffer
			}
		}
	}

	resp := openai.BuildNonStreamResponse(model, result.Text, result.ReasoningText, toolCalls, result.FinishReason, openai.Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
	})
	h.monitor.AddTokensRelayed(result.TotalTokens)
	h.monitor.IncRequestSuccess()
	c.JSON(http.StatusOK, resp)
}
