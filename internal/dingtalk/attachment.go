package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// AttachmentFetcher retrieves raw file bytes for a platform-issued
// download code using an access token.
type AttachmentFetcher struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewAttachmentFetcher creates a fetcher against the robot file
// download endpoint.
func NewAttachmentFetcher(log *slog.Logger, endpoint string, client *http.Client) *AttachmentFetcher {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AttachmentFetcher{
		endpoint: endpoint,
		client:   client,
		logger:   log.With(slog.String("service", "dingtalk_attachment")),
	}
}

type downloadRequest struct {
	DownloadCode string `json:"downloadCode"`
	RobotCode    string `json:"robotCode"`
}

type errorEnvelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Download posts the download code and returns the response body as the
// file payload. The platform answers with either a JSON error envelope
// or raw binary content; a body that parses as JSON with a non-zero
// errcode is treated as a failure, anything else as file bytes. A binary
// payload that coincidentally parses as such JSON is misclassified —
// an ambiguity inherited from the upstream protocol and kept as-is.
func (f *AttachmentFetcher) Download(ctx context.Context, downloadCode, accessToken string) ([]byte, error) {
	payload, err := json.Marshal(downloadRequest{DownloadCode: downloadCode})
	if err != nil {
		return nil, &DownloadError{Err: err}
	}

	reqURL := f.endpoint + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &DownloadError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}

	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.ErrCode != 0 {
		msg := envelope.ErrMsg
		if msg == "" {
			msg = "download failed"
		}
		return nil, &DownloadError{PlatformCode: envelope.ErrCode, Msg: msg}
	}
	return body, nil
}
