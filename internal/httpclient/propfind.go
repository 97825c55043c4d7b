package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	davxml "github.com/FuzzyMistborn/caldav-frontend/internal/xml"
)

// DoPROPFIND performs a PROPFIND request and returns the parsed multistatus
// resources keyed by href.
func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, props ...string) (*davxml.Multistatus, error) {
	c.logger.Debug("starting PROPFIND request",
		"url", urlStr,
		"depth", depth,
		"properties", props)

	body, err := davxml.Propfind(props...)
	if err != nil {
		return nil, fmt.Errorf("failed to build PROPFIND body: %w", err)
	}

	header := http.Header{}
	header.Set("Depth", fmt.Sprintf("%d", depth))
	header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.do(ctx, "PROPFIND", urlStr, header, body)
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

	c.logger.Debug("PROPFIND request complete", "resources", len(resources.Hrefs))
	return resources, nil
}
