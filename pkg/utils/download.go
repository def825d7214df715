package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const downloadTimeout = 30 * time.Second

// DownloadFileFromURL fetches a file over HTTP(S) and returns its bytes plus
// a file name derived from the URL path. maxSize 0 means unlimited.
func DownloadFileFromURL(rawURL string, maxSize int64) ([]byte, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, "", fmt.Errorf("unsupported url scheme: %s", rawURL)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	client := &fasthttp.Client{
		MaxResponseBodySize: int(maxSize),
		ReadTimeout:         downloadTimeout,
		WriteTimeout:        downloadTimeout,
	}
	if err := client.DoTimeout(req, resp, downloadTimeout); err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, "", fmt.Errorf("download %s returned status %d", rawURL, resp.StatusCode())
	}

	// resp.Body() is pooled; copy before release.
	body := resp.Body()
	data := make([]byte, len(body))
	copy(data, body)

	return data, fileNameFromURL(rawURL), nil
}

func fileNameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	return SanitizeFileName(path.Base(parsed.Path))
}
