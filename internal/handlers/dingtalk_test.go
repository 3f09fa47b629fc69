package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbill/smartbill/internal/dingtalk"
)

type fakeAdminStore struct {
	created dingtalk.CreateConfigInput
	updated map[string]dingtalk.UpdateConfigInput
	deleted []string
	exists  bool
	logs    []dingtalk.AuditLogEntry
}

func (f *fakeAdminStore) Create(ctx context.Context, input dingtalk.CreateConfigInput) (dingtalk.BotConfig, error) {
	f.created = input
	return dingtalk.BotConfig{
		ID:            "cfg-1",
		Name:          input.Name,
		AppKey:        input.AppKey,
		AppSecret:     input.AppSecret,
		WebhookSecret: input.WebhookSecret,
		Active:        input.Active,
	}, nil
}

func (f *fakeAdminStore) Get(ctx context.Context, id string) (dingtalk.BotConfig, error) {
	if !f.exists {
		return dingtalk.BotConfig{}, dingtalk.ErrConfigNotFound
	}
	return dingtalk.BotConfig{ID: id, Name: "robot", AppSecret: "real"}, nil
}

func (f *fakeAdminStore) ListMasked(ctx context.Context) ([]dingtalk.BotConfig, error) {
	return nil, nil
}

func (f *fakeAdminStore) Update(ctx context.Context, id string, input dingtalk.UpdateConfigInput) (bool, error) {
	if f.updated == nil {
		f.updated = map[string]dingtalk.UpdateConfigInput{}
	}
	f.updated[id] = input
	return f.exists, nil
}

func (f *fakeAdminStore) Delete(ctx context.Context, id string) (bool, error) {
	f.deleted = append(f.deleted, id)
	return f.exists, nil
}

func (f *fakeAdminStore) ListLogs(ctx context.Context, configID string, limit int) ([]dingtalk.AuditLogEntry, error) {
	return f.logs, nil
}

type fakeFileStore struct {
	names []string
	data  [][]byte
}

func (f *fakeFileStore) Save(ctx context.Context, data []byte, originalName, configID string) (dingtalk.StoredFile, error) {
	f.names = append(f.names, originalName)
	f.data = append(f.data, data)
	return dingtalk.StoredFile{SafeFileName: originalName, SizeBytes: int64(len(data))}, nil
}

type fakeURLFetcher struct {
	urls []string
	data []byte
	err  error
}

func (f *fakeURLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.urls = append(f.urls, rawURL)
	return f.data, f.err
}

func newAdminContext(t *testing.T, method, target string, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	e.Validator = NewRequestValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestCreateConfigMasksSecrets(t *testing.T) {
	store := &fakeAdminStore{}
	h := NewDingTalkHandler(nil, store, &fakeFileStore{}, &fakeURLFetcher{})

	c, rec := newAdminContext(t, http.MethodPost, "/api/dingtalk/configs",
		`{"name":"robot","app_key":"key","app_secret":"real-secret","webhook_secret":"hook-secret"}`)
	require.NoError(t, h.CreateConfig(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp dingtalk.BotConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dingtalk.SecretPlaceholder, resp.AppSecret)
	assert.Equal(t, dingtalk.SecretPlaceholder, resp.WebhookSecret)
	assert.NotContains(t, rec.Body.String(), "real-secret")

	// Omitting is_active defaults a new config to enabled.
	assert.True(t, store.created.Active)
}

func TestCreateConfigRequiresName(t *testing.T) {
	h := NewDingTalkHandler(nil, &fakeAdminStore{}, &fakeFileStore{}, &fakeURLFetcher{})

	c, _ := newAdminContext(t, http.MethodPost, "/api/dingtalk/configs", `{"app_key":"key"}`)
	err := h.CreateConfig(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestUpdateConfigNotFound(t *testing.T) {
	h := NewDingTalkHandler(nil, &fakeAdminStore{exists: false}, &fakeFileStore{}, &fakeURLFetcher{})

	c, _ := newAdminContext(t, http.MethodPut, "/api/dingtalk/configs/cfg-1", `{"name":"renamed"}`)
	c.SetParamNames("id")
	c.SetParamValues("cfg-1")
	err := h.UpdateConfig(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestDeleteConfig(t *testing.T) {
	store := &fakeAdminStore{exists: true}
	h := NewDingTalkHandler(nil, store, &fakeFileStore{}, &fakeURLFetcher{})

	c, rec := newAdminContext(t, http.MethodDelete, "/api/dingtalk/configs/cfg-1", "")
	c.SetParamNames("id")
	c.SetParamValues("cfg-1")
	require.NoError(t, h.DeleteConfig(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"cfg-1"}, store.deleted)
}

func uploadContext(t *testing.T, fileName string, payload []byte) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	e := echo.New()
	e.Validator = NewRequestValidator()
	req := httptest.NewRequest(http.MethodPost, "/api/dingtalk/upload", &buf)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestUploadStoresPDF(t *testing.T) {
	files := &fakeFileStore{}
	h := NewDingTalkHandler(nil, &fakeAdminStore{}, files, &fakeURLFetcher{})

	c, rec := uploadContext(t, "invoice.pdf", []byte("%PDF-1.7"))
	require.NoError(t, h.Upload(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"invoice.pdf"}, files.names)
	assert.Equal(t, []byte("%PDF-1.7"), files.data[0])
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h := NewDingTalkHandler(nil, &fakeAdminStore{}, &fakeFileStore{}, &fakeURLFetcher{})

	c, _ := uploadContext(t, "notes.txt", []byte("plain"))
	err := h.Upload(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestDownloadURLFetchesAndStores(t *testing.T) {
	files := &fakeFileStore{}
	fetcher := &fakeURLFetcher{data: []byte("%PDF-1.7")}
	h := NewDingTalkHandler(nil, &fakeAdminStore{}, files, fetcher)

	c, rec := newAdminContext(t, http.MethodPost, "/api/dingtalk/download-url",
		`{"url":"https://files.example.com/a/b/invoice.pdf","file_name":"may.pdf"}`)
	require.NoError(t, h.DownloadURL(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"https://files.example.com/a/b/invoice.pdf"}, fetcher.urls)
	assert.Equal(t, []string{"may.pdf"}, files.names)
}

func TestDownloadURLFallsBackToURLName(t *testing.T) {
	files := &fakeFileStore{}
	fetcher := &fakeURLFetcher{data: []byte("x")}
	h := NewDingTalkHandler(nil, &fakeAdminStore{}, files, fetcher)

	c, _ := newAdminContext(t, http.MethodPost, "/api/dingtalk/download-url",
		`{"url":"https://files.example.com/a/b/invoice.pdf"}`)
	require.NoError(t, h.DownloadURL(c))
	assert.Equal(t, []string{"invoice.pdf"}, files.names)
}
