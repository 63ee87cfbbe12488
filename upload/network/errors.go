package network

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrStatusNotFound is returned when the backend has no processing record for
// the provided source yet.
var ErrStatusNotFound = errors.New("no processing status found for the provided source")

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
