package httpclient

import (
	"context"
	"net/http"
)

// DoDELETE sends a DELETE request with If-Match header for optimistic locking
func (c *httpClientWrapper) DoDELETE(ctx context.Context, urlStr string, etag string) error {
	c.logger.Debug("starting DELETE request",
		"url", urlStr,
		"etag", etag)

	header := http.Header{}
	if etag != "" {
		header.Set("If-Match", etag)
	}

	resp, err := c.do(ctx, http.MethodDelete, urlStr, header, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.logger.Debug("unexpected status code",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return statusError(resp.StatusCode)
	}

	c.logger.Debug("DELETE request complete", "status", resp.Status)
	return nil
}
