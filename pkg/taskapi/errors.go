package taskapi

import (
	"encoding/json"

	"github.com/Sternrassler/tasksync/pkg/apierr"
)

// errorBody is the JSON error payload the task API returns.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// decodeError classifies a non-2xx response, keeping the API's message and
// code when the body carries them.
func decodeError(status int, body []byte) *apierr.Error {
	var eb errorBody
	if len(body) > 0 {
		// a non-JSON body leaves eb empty
		_ = json.Unmarshal(body, &eb)
	}
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	return apierr.FromStatus(status, msg, eb.Code)
}
