package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/nutsub/internal/cashu"
)

var (
	// ErrDaemonDown indicates the wallet daemon could not be reached or
	// failed with a server error.
	ErrDaemonDown = errors.New("wallet.bridge: daemon unavailable")

	// ErrRejected indicates the daemon refused the request.
	ErrRejected = errors.New("wallet.bridge: request rejected")
)

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// errorBody is the JSON error payload of the daemon.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleErrorResponse maps a non-2xx daemon response to an error.
// Spent inputs map to cashu.ErrAlreadySpent.
func handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	if isAlreadySpent(resp.StatusCode, body) {
		return fmt.Errorf("%w: %s", cashu.ErrAlreadySpent, body.Error)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrDaemonDown, resp.StatusCode, body.Error)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, body.Error)
	}
}

func isAlreadySpent(status int, body errorBody) bool {
	if body.Code == "already_spent" {
		return true
	}
	if status != http.StatusConflict && status != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(body.Error), "already spent")
}
