package dingtalk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartbill/smartbill/internal/metrics"
)

// Outcome classifies how an inbound webhook request ends. Every outcome
// maps to HTTP 200 with a text reply; the platform retries aggressively
// on anything else, so business failures never surface as status codes.
type Outcome int

const (
	// OutcomeProcessed means the message went through the full pipeline.
	OutcomeProcessed Outcome = iota
	// OutcomeServiceNotConfigured means no active config exists for the
	// default (un-scoped) webhook route.
	OutcomeServiceNotConfigured
	// OutcomeConfigNotFound means the addressed config does not exist or
	// is disabled.
	OutcomeConfigNotFound
	// OutcomeSignatureInvalid means the timestamp+sign pair failed
	// verification against the config's webhook secret.
	OutcomeSignatureInvalid
	// OutcomeInternalError covers everything else (bad payload, audit
	// write failure).
	OutcomeInternalError
)

const (
	replyServiceNotConfigured = "服务未配置"
	replyConfigNotFound       = "配置不存在或已禁用"
	replySignatureInvalid     = "签名验证失败"
	replyInternalError        = "处理消息时发生错误"
	replyAttachmentReceived   = "收到发票文件，正在处理中..."
	replyEchoPrefix           = "收到消息: "

	echoContentLimit = 50
)

// BuildReply is the single place reply payloads are constructed from an
// outcome. For OutcomeProcessed the router-produced reply is returned
// unchanged; every other outcome maps to its fixed platform-safe text.
func BuildReply(outcome Outcome, processed ReplyMessage) ReplyMessage {
	switch outcome {
	case OutcomeServiceNotConfigured:
		return TextReply(replyServiceNotConfigured)
	case OutcomeConfigNotFound:
		return TextReply(replyConfigNotFound)
	case OutcomeSignatureInvalid:
		return TextReply(replySignatureInvalid)
	case OutcomeInternalError:
		return TextReply(replyInternalError)
	default:
		return processed
	}
}

type tokenSource interface {
	AccessToken(ctx context.Context, appKey, appSecret string) (string, error)
}

type attachmentDownloader interface {
	Download(ctx context.Context, downloadCode, accessToken string) ([]byte, error)
}

type fileSaver interface {
	Save(ctx context.Context, data []byte, originalName, configID string) (StoredFile, error)
}

type auditWriter interface {
	CreateLog(ctx context.Context, entry AuditLogEntry) error
}

// Router runs one inbound message through classification, optional
// attachment retrieval, audit logging, and reply construction.
type Router struct {
	tokens  tokenSource
	fetcher attachmentDownloader
	sink    fileSaver
	audit   auditWriter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter creates a message router.
func NewRouter(log *slog.Logger, tokens tokenSource, fetcher attachmentDownloader, sink fileSaver, audit auditWriter, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		tokens:  tokens,
		fetcher: fetcher,
		sink:    sink,
		audit:   audit,
		logger:  log.With(slog.String("service", "dingtalk_router")),
		metrics: m,
	}
}

// Process handles one inbound message for the resolved config. A failed
// attachment download is downgraded to a failure-describing content
// summary; exactly one audit log entry is written per message, and only
// an audit write failure propagates as an error.
func (r *Router) Process(ctx context.Context, cfg BotConfig, msg InboundMessage) (ReplyMessage, error) {
	msgType := msg.MsgType
	if msgType == "" {
		msgType = "unknown"
	}
	content := ""
	if msg.Text != nil {
		content = msg.Text.Content
	}

	hasAttachment := false
	attachmentCount := 0
	if msgType == "file" && msg.Content != nil && msg.Content.DownloadCode != "" {
		hasAttachment = true
		attachmentCount = 1
		fileName := msg.Content.FileName
		if fileName == "" {
			fileName = "invoice.pdf"
		}
		if err := r.retrieveAttachment(ctx, cfg, msg.Content.DownloadCode, fileName); err != nil {
			r.logger.Error("attachment retrieval failed",
				slog.String("config_id", cfg.ID),
				slog.String("file_name", fileName),
				slog.Any("error", err))
			r.countDownload("error")
			content = "文件下载失败: " + fileName
		} else {
			r.countDownload("ok")
			content = "文件: " + fileName
		}
	}

	entry := AuditLogEntry{
		ConfigID:        cfg.ID,
		MessageType:     msgType,
		SenderNick:      msg.SenderNick,
		SenderID:        msg.SenderID,
		Content:         content,
		HasAttachment:   hasAttachment,
		AttachmentCount: attachmentCount,
		Status:          "processed",
	}
	if err := r.audit.CreateLog(ctx, entry); err != nil {
		r.countInbound(msgType, "log_error")
		return ReplyMessage{}, fmt.Errorf("write audit log: %w", err)
	}
	r.countInbound(msgType, "processed")

	if hasAttachment {
		return TextReply(replyAttachmentReceived), nil
	}
	return TextReply(replyEchoPrefix + truncateContent(content, echoContentLimit)), nil
}

func (r *Router) retrieveAttachment(ctx context.Context, cfg BotConfig, downloadCode, fileName string) error {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return ErrCredentialsMissing
	}
	token, err := r.tokens.AccessToken(ctx, cfg.AppKey, cfg.AppSecret)
	if err != nil {
		return err
	}
	data, err := r.fetcher.Download(ctx, downloadCode, token)
	if err != nil {
		return err
	}
	if _, err := r.sink.Save(ctx, data, fileName, cfg.ID); err != nil {
		return err
	}
	return nil
}

func truncateContent(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

func (r *Router) countInbound(msgType, status string) {
	if r.metrics != nil {
		r.metrics.InboundMessages.WithLabelValues(msgType, status).Inc()
	}
}

func (r *Router) countDownload(status string) {
	if r.metrics != nil {
		r.metrics.AttachmentDownloads.WithLabelValues(status).Inc()
	}
}
