package dingtalk

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates no robot configuration matched.
	ErrConfigNotFound = errors.New("dingtalk config not found")
	// ErrCredentialsMissing indicates the config lacks an app key or secret.
	ErrCredentialsMissing = errors.New("dingtalk config missing app key or secret")
)

// TokenError reports a failed access-token exchange. Msg carries the
// platform-supplied error message; Err carries a transport failure.
type TokenError struct {
	Msg string
	Err error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dingtalk token exchange: %v", e.Err)
	}
	if e.Msg != "" {
		return "dingtalk token exchange: " + e.Msg
	}
	return "dingtalk token exchange failed"
}

func (e *TokenError) Unwrap() error { return e.Err }

// DownloadError reports a failed attachment download. PlatformCode is
// the non-zero errcode from a JSON error envelope; Err carries a
// transport failure.
type DownloadError struct {
	PlatformCode int
	Msg          string
	Err          error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dingtalk attachment download: %v", e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("dingtalk attachment download: %s (errcode %d)", e.Msg, e.PlatformCode)
	}
	return fmt.Sprintf("dingtalk attachment download failed (errcode %d)", e.PlatformCode)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FetchError reports a failed generic URL retrieval.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
