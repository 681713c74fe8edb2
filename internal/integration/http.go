package integration

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pampa-erp/pampa/internal/shared"
)

// maxResponseSize caps what is read from a collaborator (10MB).
const maxResponseSize = 10 * 1024 * 1024

func limitBody(resp *http.Response) io.Reader {
	return io.LimitReader(resp.Body, maxResponseSize)
}

// statusError converts a non-2xx response. 429 and 5xx are retryable.
func statusError(service, op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &shared.ExternalServiceError{
		Service:    service,
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
	}
}
