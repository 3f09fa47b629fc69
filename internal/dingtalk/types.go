package dingtalk

import "time"

// SecretPlaceholder replaces secret values in read responses. An update
// carrying this exact value for a secret field means "keep the stored value".
const SecretPlaceholder = "********"

// BotConfig is a configured DingTalk robot identity.
type BotConfig struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AppKey        string    `json:"app_key,omitempty"`
	AppSecret     string    `json:"app_secret,omitempty"`
	WebhookSecret string    `json:"webhook_secret,omitempty"`
	Active        bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Masked returns a copy safe for read responses: secret values are
// replaced with SecretPlaceholder, empty secrets stay empty.
func (c BotConfig) Masked() BotConfig {
	out := c
	if out.AppSecret != "" {
		out.AppSecret = SecretPlaceholder
	}
	if out.WebhookSecret != "" {
		out.WebhookSecret = SecretPlaceholder
	}
	return out
}

// CreateConfigInput describes a new robot configuration.
type CreateConfigInput struct {
	Name          string
	AppKey        string
	AppSecret     string
	WebhookSecret string
	Active        bool
}

// UpdateConfigInput is a partial configuration update. Nil fields are
// left untouched; secret fields equal to SecretPlaceholder are ignored.
type UpdateConfigInput struct {
	Name          *string
	AppKey        *string
	AppSecret     *string
	WebhookSecret *string
	Active        *bool
}

// TextBody is the text payload of a DingTalk message.
type TextBody struct {
	Content string `json:"content"`
}

// FileContent carries the platform-issued attachment reference of a
// file-type message.
type FileContent struct {
	DownloadCode string `json:"downloadCode"`
	FileName     string `json:"fileName"`
}

// InboundMessage is the wire envelope DingTalk posts to the webhook.
// It lives for the duration of one request and is never persisted as-is.
type InboundMessage struct {
	MsgType        string       `json:"msgtype"`
	Text           *TextBody    `json:"text,omitempty"`
	Content        *FileContent `json:"content,omitempty"`
	MsgID          string       `json:"msgId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	SenderID       string       `json:"senderId,omitempty"`
	SenderNick     string       `json:"senderNick,omitempty"`
	SessionWebhook string       `json:"sessionWebhook,omitempty"`
}

// ReplyMessage is the payload returned inline to the webhook caller and
// pushed to the session webhook.
type ReplyMessage struct {
	MsgType string   `json:"msgtype"`
	Text    TextBody `json:"text"`
}

// TextReply builds a text reply payload.
func TextReply(content string) ReplyMessage {
	return ReplyMessage{
		MsgType: "text",
		Text:    TextBody{Content: content},
	}
}

// AuditLogEntry records one inbound webhook message. Entries are
// append-only: one row per message regardless of downstream outcome.
type AuditLogEntry struct {
	ID              string    `json:"id"`
	ConfigID        string    `json:"config_id"`
	MessageType     string    `json:"message_type"`
	SenderNick      string    `json:"sender_nick"`
	SenderID        string    `json:"sender_id"`
	Content         string    `json:"content"`
	HasAttachment   bool      `json:"has_attachment"`
	AttachmentCount int       `json:"attachment_count"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// StoredFile describes a persisted attachment.
type StoredFile struct {
	SafeFileName string `json:"safe_file_name"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
}
