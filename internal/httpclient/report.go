package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// DoREPORT executes a CalDAV REPORT request with a prebuilt XML body.
func (c *httpClientWrapper) DoREPORT(ctx context.Context, urlStr string, depth int, body []byte) (*davxml.Multistatus, error) {
	c.logger.Debug("starting REPORT request",
		"url", urlStr,
		"depth", depth,
		"body_length", len(body))

	header := http.Header{}
	header.Set("Depth", fmt.Sprintf("%d", depth))
	header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.do(ctx, "REPORT", urlStr, header, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		c.logger.Debug("unexpected response status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, statusError(resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrServerUnavailable, err)
	}

	resources, err := davxml.ParseMultistatus(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", caldav.ErrUnsupportedServer, err)
	}

	c.logger.Debug("REPORT request complete", "resources", len(resources.Hrefs))
	return resources, nil
}
