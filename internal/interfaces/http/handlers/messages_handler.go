package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/dialect/anthropic"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/upstream"
	"github.com/Baozhi888/zai2api-go/pkg/safego"
)

// MessagesHandler implements the Anthropic Messages dialect: POST /v1/messages.
type MessagesHandler struct {
	upstreamClient *upstream.Client
	transformer    *service.RequestTransformer
	reasoningMode  entity.ReasoningMode
	monitor        *monitoring.Monitor
	tracer         *monitoring.Tracer
	logger         *zap.Logger
}

// NewMessagesHandler builds a MessagesHandler.
func NewMessagesHandler(client *upstream.Client, transformer *service.RequestTransformer, reasoningMode entity.ReasoningMode, monitor *monitoring.Monitor, tracer *monitoring.Tracer, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{
		upstreamClient: client,
		transformer:    transformer,
		reasoningMode:  reasoningMode,
		monitor:        monitor,
		tracer:         tracer,
		logger:         logger.With(zap.String("component", "messages-handler")),
	}
}

// Messages handles POST /v1/messages.
func (h *MessagesHandler) Messages(c *gin.Context) {
	ctx, span := h.tracer.StartSpan(c.Request.Context(), "messages.create")
	monitoring.SetAttribute(span, "dialect", "anthropic")
	var spanErr error
	defer func() { h.tracer.EndSpan(span, spanErr) }()
	c.Request = c.Request.WithContext(ctx)

	var req anthropic.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		spanErr = err
		writeDialectError(c, service.NewRelayError(service.KindInvalidRequest, err.Error(), nil), dialectAnthropic)
		return
	}
	if len(req.Messages) == 0 {
		spanErr = fmt.Errorf("messages array must not be empty")
		writeDialectError(c, service.NewRelayError(service.KindInvalidRequest, "messages array must not be empty", nil), dialectAnthropic)
		return
	}
	monitoring.SetAttribute(span, "model", req.Model)

	relayReq := anthropic.ToRelayRequest(req, h.reasoningMode)
	relayReq = h.transformer.Transform(relayReq)

	h.monitor.IncRequestTotal()
	h.monitor.IncUpstreamCall()

	body, err := buildUpstreamBody(relayReq)
	if err != nil {
		spanErr = err
		h.monitor.IncRequestFailed()
		writeDialectError(c, service.NewRelayError(service.KindInternalError, "failed to encode upstream request", err), dialectAnthropic)
		return
	}

	frames, err := h.upstreamClient.StreamChat(c.Request.Context(), body)
	if err != nil {
		spanErr = err
		h.monitor.IncRequestFailed()
		h.monitor.IncUpstreamError()
		writeDialectError(c, err, dialectAnthropic)
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

func (h *MessagesHandler) streamResponse(c *gin.Context, model string, engine *service.Engine, frames <-chan entity.UpstreamFrame, events chan entity.OutboundEvent) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	h.monitor.IncStreamTotal()

	errCh := make(chan error, 1)
	safego.Go(h.logger, "messages-engine-run", func() {
		var runErr error
		defer func() {
			close(events)
			errCh <- runErr
		}()
		runErr = engine.Run(c.Request.Context(), frames, events)
	})

	writer := anthropic.NewStreamWriter(c.Writer, model)
	for ev := range drainUntilClosed(events, errCh) {
		if err := writer.Write(ev); err != nil {
			h.logger.Warn("failed writing stream event", zap.Error(err))
			break
		}
		c.Writer.Flush()
		if ev.Kind == entity.EventErr {
			h.monitor.IncStreamAborted()
		}
	}
	h.monitor.IncRequestSuccess()
}

func (h *MessagesHandler) nonStreamResponse(c *gin.Context, model string, engine *service.Engine, frames <-chan entity.UpstreamFrame, events chan entity.OutboundEvent) {
	errCh := make(chan error, 1)
	safego.Go(h.logger, "messages-engine-run", func() {
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
	var toolBlocks []anthropic.ContentBlock
	var relayErr error

	for ev := range drainUntilClosed(events, errCh) {
		finalizer.Apply(ev)
		switch ev.Kind {
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
		writeDialectError(c, relayErr, dialectAnthropic)
		return
	}

	result := finalizer.Result(finishReason, prompt, completion, total, usageExplicit)
	for _, tc := range result.ToolCalls {
		toolBlocks = append(toolBlocks, anthropic.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: decodeToolArguments(tc.ArgumentsBuffer),
		})
	}

	resp := anthropic.BuildNonStreamResponse(model, result.Text, result.ReasoningText, toolBlocks, result.FinishReason, anthropic.Usage{
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
	})
	h.monitor.AddTokensRelayed(result.TotalTokens)
	h.monitor.IncRequestSuccess()
	c.JSON(http.StatusOK, resp)
}
