package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbill/smartbill/internal/dingtalk"
)

type fakeConfigStore struct {
	active    dingtalk.BotConfig
	activeErr error
	byID      map[string]dingtalk.BotConfig
	getErr    error
}

func (f *fakeConfigStore) GetActive(ctx context.Context) (dingtalk.BotConfig, error) {
	if f.activeErr != nil {
		return dingtalk.BotConfig{}, f.activeErr
	}
	return f.active, nil
}

func (f *fakeConfigStore) Get(ctx context.Context, id string) (dingtalk.BotConfig, error) {
	if f.getErr != nil {
		return dingtalk.BotConfig{}, f.getErr
	}
	cfg, ok := f.byID[id]
	if !ok {
		return dingtalk.BotConfig{}, dingtalk.ErrConfigNotFound
	}
	return cfg, nil
}

type fakeProcessor struct {
	reply dingtalk.ReplyMessage
	err   error
	got   []dingtalk.InboundMessage
}

func (f *fakeProcessor) Process(ctx context.Context, cfg dingtalk.BotConfig, msg dingtalk.InboundMessage) (dingtalk.ReplyMessage, error) {
	f.got = append(f.got, msg)
	return f.reply, f.err
}

type dispatched struct {
	url     string
	payload any
}

type fakeDispatcher struct {
	sent chan dispatched
	err  error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{sent: make(chan dispatched, 1)}
}

func (f *fakeDispatcher) Send(ctx context.Context, callbackURL string, payload any) error {
	f.sent <- dispatched{url: callbackURL, payload: payload}
	return f.err
}

func signFor(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, h *DingTalkWebhookHandler, configID, body string, headers map[string]string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/dingtalk/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if configID != "" {
		c.SetParamNames("config_id")
		c.SetParamValues(configID)
	}
	return rec, h.Handle(c)
}

func replyContent(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var reply dingtalk.ReplyMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "text", reply.MsgType)
	return reply.Text.Content
}

func TestWebhookNoActiveConfig(t *testing.T) {
	configs := &fakeConfigStore{activeErr: dingtalk.ErrConfigNotFound}
	h := NewDingTalkWebhookHandler(nil, configs, &fakeProcessor{}, nil)

	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "服务未配置", replyContent(t, rec))
}

func TestWebhookUnknownConfigID(t *testing.T) {
	configs := &fakeConfigStore{byID: map[string]dingtalk.BotConfig{}}
	h := NewDingTalkWebhookHandler(nil, configs, &fakeProcessor{}, nil)

	rec, err := webhookRequest(t, h, "missing", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "配置不存在或已禁用", replyContent(t, rec))
}

func TestWebhookDisabledConfig(t *testing.T) {
	configs := &fakeConfigStore{byID: map[string]dingtalk.BotConfig{
		"cfg-1": {ID: "cfg-1", Active: false},
	}}
	h := NewDingTalkWebhookHandler(nil, configs, &fakeProcessor{}, nil)

	rec, err := webhookRequest(t, h, "cfg-1", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "配置不存在或已禁用", replyContent(t, rec))
}

func TestWebhookInvalidSignature(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true, WebhookSecret: "secret"}}
	processor := &fakeProcessor{}
	h := NewDingTalkWebhookHandler(nil, configs, processor, nil)

	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"}}`, map[string]string{
		"timestamp": "1700000000000",
		"sign":      "bogus",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "签名验证失败", replyContent(t, rec))
	assert.Empty(t, processor.got)
}

func TestWebhookValidSignatureProcesses(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true, WebhookSecret: "secret"}}
	processor := &fakeProcessor{reply: dingtalk.TextReply("收到消息: hi")}
	h := NewDingTalkWebhookHandler(nil, configs, processor, nil)

	timestamp := "1700000000000"
	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"},"senderNick":"zhang"}`, map[string]string{
		"timestamp": timestamp,
		"sign":      signFor(timestamp, "secret"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "收到消息: hi", replyContent(t, rec))

	require.Len(t, processor.got, 1)
	assert.Equal(t, "hi", processor.got[0].Text.Content)
	assert.Equal(t, "zhang", processor.got[0].SenderNick)
}

func TestWebhookNoSecretSkipsVerification(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true}}
	processor := &fakeProcessor{reply: dingtalk.TextReply("收到消息: hi")}
	h := NewDingTalkWebhookHandler(nil, configs, processor, nil)

	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "收到消息: hi", replyContent(t, rec))
}

func TestWebhookProcessorErrorStillReturnsOK(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true}}
	processor := &fakeProcessor{err: errors.New("audit write failed")}
	h := NewDingTalkWebhookHandler(nil, configs, processor, nil)

	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "处理消息时发生错误", replyContent(t, rec))
}

func TestWebhookDispatchesToSessionWebhook(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true}}
	processor := &fakeProcessor{reply: dingtalk.TextReply("收到消息: hi")}
	dispatcher := newFakeDispatcher()
	h := NewDingTalkWebhookHandler(nil, configs, processor, dispatcher)

	rec, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"},"sessionWebhook":"https://oapi.dingtalk.com/robot/sendBySession?session=abc"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-dispatcher.sent:
		assert.Equal(t, "https://oapi.dingtalk.com/robot/sendBySession?session=abc", got.url)
		assert.Equal(t, processor.reply, got.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("session webhook dispatch did not happen")
	}
}

func TestWebhookNoSessionWebhookNoDispatch(t *testing.T) {
	configs := &fakeConfigStore{active: dingtalk.BotConfig{ID: "cfg-1", Active: true}}
	dispatcher := newFakeDispatcher()
	h := NewDingTalkWebhookHandler(nil, configs, &fakeProcessor{reply: dingtalk.TextReply("ok")}, dispatcher)

	_, err := webhookRequest(t, h, "", `{"msgtype":"text","text":{"content":"hi"}}`, nil)
	require.NoError(t, err)

	select {
	case <-dispatcher.sent:
		t.Fatal("unexpected dispatch without session webhook")
	case <-time.After(50 * time.Millisecond):
	}
}
