// Package driver implements the Uptane glue named in spec.md §4.8: fetching
// and verifying role metadata from a director/image-repo service, signing
// and uploading ECU version manifests, and driving target installation
// through the atomic commit protocol.
package driver

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/uplo-tech/errors"
)

// requestTimeout bounds a single metadata/manifest HTTP round trip. It is
// independent of the atomic commit protocol's own transaction timeout.
const requestTimeout = 30 * time.Second

// ErrStatus is returned when a service responds with a non-2xx status.
var ErrStatus = errors.New("unexpected http status")

// Client is a thin HTTP client over an Uptane director or image repo,
// following the node/api/client package's get/post-helper shape: endpoint
// methods stay one-liners and the transport details live here.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a bounded-timeout http.Client, matching
// the 30-second ceiling every get/put call in this package is subject to.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: requestTimeout}}
}

// get issues a GET against url and returns the response body, failing on
// any non-2xx status.
func (c *Client) get(url string) ([]byte, error) {
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, errors.AddContext(err, "could not GET "+url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.AddContext(err, "could not read response body from "+url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.AddContext(ErrStatus, resp.Status+" from "+url)
	}
	return body, nil
}

// put issues a PUT of body against url, discarding any response body but
// still failing on a non-2xx status.
func (c *Client) put(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.AddContext(err, "could not build PUT request to "+url)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.AddContext(err, "could not PUT "+url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.AddContext(ErrStatus, resp.Status+" from "+url)
	}
	return nil
}
