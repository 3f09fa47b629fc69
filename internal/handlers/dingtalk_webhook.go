package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smartbill/smartbill/internal/dingtalk"
)

type webhookConfigStore interface {
	Get(ctx context.Context, id string) (dingtalk.BotConfig, error)
	GetActive(ctx context.Context) (dingtalk.BotConfig, error)
}

type webhookProcessor interface {
	Process(ctx context.Context, cfg dingtalk.BotConfig, msg dingtalk.InboundMessage) (dingtalk.ReplyMessage, error)
}

type replyDispatcher interface {
	Send(ctx context.Context, callbackURL string, payload any) error
}

// DingTalkWebhookHandler receives robot callbacks from the platform.
// Every request, including ones that fail verification or processing,
// gets HTTP 200 with a text reply: the platform treats non-200 as a
// delivery failure and retries, which would duplicate messages.
type DingTalkWebhookHandler struct {
	configs    webhookConfigStore
	processor  webhookProcessor
	dispatcher replyDispatcher
	logger     *slog.Logger
}

func NewDingTalkWebhookHandler(log *slog.Logger, configs webhookConfigStore, processor webhookProcessor, dispatcher replyDispatcher) *DingTalkWebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DingTalkWebhookHandler{
		configs:    configs,
		processor:  processor,
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "dingtalk_webhook")),
	}
}

func (h *DingTalkWebhookHandler) Register(e *echo.Echo) {
	e.POST("/api/dingtalk/webhook", h.Handle)
	e.POST("/api/dingtalk/webhook/:config_id", h.Handle)
}

func (h *DingTalkWebhookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	configID := c.Param("config_id")

	cfg, outcome := h.resolveConfig(ctx, configID)
	if outcome != dingtalk.OutcomeProcessed {
		return h.reply(c, outcome, dingtalk.ReplyMessage{})
	}

	if cfg.WebhookSecret != "" {
		timestamp := c.Request().Header.Get("timestamp")
		sign := c.Request().Header.Get("sign")
		if !dingtalk.VerifySignature(timestamp, sign, cfg.WebhookSecret) {
			h.logger.Warn("signature verification failed", slog.String("config_id", cfg.ID))
			return h.reply(c, dingtalk.OutcomeSignatureInvalid, dingtalk.ReplyMessage{})
		}
	}

	var msg dingtalk.InboundMessage
	if err := c.Bind(&msg); err != nil {
		h.logger.Warn("payload decode failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return h.reply(c, dingtalk.OutcomeInternalError, dingtalk.ReplyMessage{})
	}

	processed, err := h.processor.Process(ctx, cfg, msg)
	if err != nil {
		h.logger.Error("message processing failed", slog.String("config_id", cfg.ID), slog.Any("error", err))
		return h.reply(c, dingtalk.OutcomeInternalError, dingtalk.ReplyMessage{})
	}

	if msg.SessionWebhook != "" && h.dispatcher != nil {
		// The inline response must not wait on the push; detach from the
		// request context so the send survives the handler returning.
		go func(ctx context.Context, url string, payload dingtalk.ReplyMessage) {
			if err := h.dispatcher.Send(ctx, url, payload); err != nil {
				h.logger.Warn("session webhook push failed", slog.Any("error", err))
			}
		}(context.WithoutCancel(ctx), msg.SessionWebhook, processed)
	}

	return h.reply(c, dingtalk.OutcomeProcessed, processed)
}

func (h *DingTalkWebhookHandler) resolveConfig(ctx context.Context, configID string) (dingtalk.BotConfig, dingtalk.Outcome) {
	if configID == "" {
		cfg, err := h.configs.GetActive(ctx)
		if err != nil {
			if !errors.Is(err, dingtalk.ErrConfigNotFound) {
				h.logger.Error("active config lookup failed", slog.Any("error", err))
			}
			return dingtalk.BotConfig{}, dingtalk.OutcomeServiceNotConfigured
		}
		return cfg, dingtalk.OutcomeProcessed
	}

	cfg, err := h.configs.Get(ctx, configID)
	if err != nil {
		if !errors.Is(err, dingtalk.ErrConfigNotFound) {
			h.logger.Error("config lookup failed", slog.String("config_id", configID), slog.Any("error", err))
			return dingtalk.BotConfig{}, dingtalk.OutcomeInternalError
		}
		return dingtalk.BotConfig{}, dingtalk.OutcomeConfigNotFound
	}
	if !cfg.Active {
		return dingtalk.BotConfig{}, dingtalk.OutcomeConfigNotFound
	}
	return cfg, dingtalk.OutcomeProcessed
}

func (h *DingTalkWebhookHandler) reply(c echo.Context, outcome dingtalk.Outcome, processed dingtalk.ReplyMessage) error {
	return c.JSON(http.StatusOK, dingtalk.BuildReply(outcome, processed))
}
