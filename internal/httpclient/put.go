package httpclient

import (
	"context"
	"net/http"
)

// DoPUT uploads a calendar object. A non-empty etag is sent as If-Match for
// optimistic locking; ifNoneMatch sends If-None-Match: * so creations fail
// instead of overwriting an existing object.
func (c *httpClientWrapper) DoPUT(ctx context.Context, urlStr string, etag string, ifNoneMatch bool, data []byte) (newEtag string, err error) {
	c.logger.Debug("starting PUT request",
		"url", urlStr,
		"etag", etag,
		"data_length", len(data))

	header := http.Header{}
	header.Set("Content-Type", "text/calendar; charset=utf-8")
	if etag != "" {
		header.Set("If-Match", etag)
	}
	if ifNoneMatch {
		header.Set("If-None-Match", "*")
	}

	resp, err := c.do(ctx, http.MethodPut, urlStr, header, data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		c.logger.Debug("unexpected status code",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return "", statusError(resp.StatusCode)
	}

	newEtag = resp.Header.Get("ETag")
	c.logger.Debug("PUT request complete",
		"status", resp.Status,
		"new_etag", newEtag)
	return newEtag, nil
}
