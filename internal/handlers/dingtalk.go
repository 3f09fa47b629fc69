package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartbill/smartbill/internal/dingtalk"
)

// maxUploadBytes bounds manually uploaded invoice files.
const maxUploadBytes = 20 << 20

type configStore interface {
	Create(ctx context.Context, input dingtalk.CreateConfigInput) (dingtalk.BotConfig, error)
	Get(ctx context.Context, id string) (dingtalk.BotConfig, error)
	ListMasked(ctx context.Context) ([]dingtalk.BotConfig, error)
	Update(ctx context.Context, id string, input dingtalk.UpdateConfigInput) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListLogs(ctx context.Context, configID string, limit int) ([]dingtalk.AuditLogEntry, error)
}

type fileStore interface {
	Save(ctx context.Context, data []byte, originalName, configID string) (dingtalk.StoredFile, error)
}

type urlFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// DingTalkHandler exposes the admin surface: robot config CRUD, message
// log listing, manual invoice upload and by-URL retrieval.
type DingTalkHandler struct {
	store   configStore
	files   fileStore
	fetcher urlFetcher
	logger  *slog.Logger
}

func NewDingTalkHandler(log *slog.Logger, store configStore, files fileStore, fetcher urlFetcher) *DingTalkHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DingTalkHandler{
		store:   store,
		files:   files,
		fetcher: fetcher,
		logger:  log.With(slog.String("handler", "dingtalk")),
	}
}

func (h *DingTalkHandler) Register(e *echo.Echo) {
	group := e.Group("/api/dingtalk")
	group.GET("/configs", h.ListConfigs)
	group.POST("/configs", h.CreateConfig)
	group.GET("/configs/:id", h.GetConfig)
	group.PUT("/configs/:id", h.UpdateConfig)
	group.DELETE("/configs/:id", h.DeleteConfig)
	group.GET("/logs", h.ListLogs)
	group.POST("/upload", h.Upload)
	group.POST("/download-url", h.DownloadURL)
}

type CreateConfigRequest struct {
	Name          string `json:"name" validate:"required"`
	AppKey        string `json:"app_key"`
	AppSecret     string `json:"app_secret"`
	WebhookSecret string `json:"webhook_secret"`
	Active        *bool  `json:"is_active"`
}

func (h *DingTalkHandler) CreateConfig(c echo.Context) error {
	var req CreateConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cfg, err := h.store.Create(c.Request().Context(), dingtalk.CreateConfigInput{
		Name:          req.Name,
		AppKey:        req.AppKey,
		AppSecret:     req.AppSecret,
		WebhookSecret: req.WebhookSecret,
		Active:        active,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, cfg.Masked())
}

func (h *DingTalkHandler) ListConfigs(c echo.Context) error {
	items, err := h.store.ListMasked(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []dingtalk.BotConfig{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *DingTalkHandler) GetConfig(c echo.Context) error {
	cfg, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dingtalk.ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "config not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg.Masked())
}

type UpdateConfigRequest struct {
	Name          *string `json:"name"`
	AppKey        *string `json:"app_key"`
	AppSecret     *string `json:"app_secret"`
	WebhookSecret *string `json:"webhook_secret"`
	Active        *bool   `json:"is_active"`
}

func (h *DingTalkHandler) UpdateConfig(c echo.Context) error {
	var req UpdateConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id := c.Param("id")
	updated, err := h.store.Update(c.Request().Context(), id, dingtalk.UpdateConfigInput{
		Name:          req.Name,
		AppKey:        req.AppKey,
		AppSecret:     req.AppSecret,
		WebhookSecret: req.WebhookSecret,
		Active:        req.Active,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !updated {
		return echo.NewHTTPError(http.StatusNotFound, "config not found")
	}

	cfg, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg.Masked())
}

func (h *DingTalkHandler) DeleteConfig(c echo.Context) error {
	deleted, err := h.store.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "config not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DingTalkHandler) ListLogs(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = parsed
	}
	items, err := h.store.ListLogs(c.Request().Context(), c.QueryParam("config_id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []dingtalk.AuditLogEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *DingTalkHandler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds 20MB limit")
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		return echo.NewHTTPError(http.StatusBadRequest, "only PDF files are accepted")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(data) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds 20MB limit")
	}

	stored, err := h.files.Save(c.Request().Context(), data, fileHeader.Filename, "")
	if err != nil {
		h.logger.Error("upload failed", slog.String("file", fileHeader.Filename), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "store file failed")
	}
	return c.JSON(http.StatusCreated, stored)
}

type DownloadURLRequest struct {
	URL      string `json:"url" validate:"required,url"`
	FileName string `json:"file_name"`
}

func (h *DingTalkHandler) DownloadURL(c echo.Context) error {
	var req DownloadURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	data, err := h.fetcher.Fetch(c.Request().Context(), req.URL)
	if err != nil {
		h.logger.Error("url fetch failed", slog.String("url", req.URL), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "download failed")
	}

	name := req.FileName
	if name == "" {
		name = filepath.Base(req.URL)
	}
	stored, err := h.files.Save(c.Request().Context(), data, name, "")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "store file failed")
	}
	return c.JSON(http.StatusCreated, stored)
}
