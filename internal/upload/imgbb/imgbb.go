// Package imgbb publishes images through the ImgBB upload API.
package imgbb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/observability"
)

const DefaultBaseURL = "https://api.imgbb.com"

var ErrNoAPIKey = errors.New("IMGBB_API_KEY is not set")

type Uploader struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

type uploadResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		URL        string `json:"url"`
		DisplayURL string `json:"display_url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts the image as multipart form data and returns its display URL,
// or the direct URL when the host gives no display URL.
func (u *Uploader) Upload(ctx context.Context, name string, image []byte) (string, error) {
	url, err := u.upload(ctx, name, image)
	if err != nil {
		observability.Uploads.WithLabelValues("imgbb", "error").Inc()
		return "", &domain.UploadError{Host: "imgbb", Err: err}
	}
	observability.Uploads.WithLabelValues("imgbb", "ok").Inc()
	return url, nil
}

func (u *Uploader) upload(ctx context.Context, name string, image []byte) (string, error) {
	if u.APIKey == "" {
		return "", ErrNoAPIKey
	}
	if len(image) == 0 {
		return "", errors.New("empty image")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("key", u.APIKey)
	if name != "" {
		_ = mw.WriteField("name", strings.TrimSuffix(name, ".png"))
	}
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(image); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	base := strings.TrimRight(u.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/1/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out uploadResponse
	_ = json.Unmarshal(b, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error.Message != "" {
			return "", fmt.Errorf("status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if !out.Success {
		return "", errors.New("unexpected response: success=false")
	}
	if out.Data.DisplayURL != "" {
		return out.Data.DisplayURL, nil
	}
	if out.Data.URL != "" {
		return out.Data.URL, nil
	}
	return "", errors.New("no usable url in response")
}

func (u *Uploader) httpClient() *http.Client {
	if u.HTTP != nil {
		return u.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}
