package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for any non-200 reply from the game backend.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

const alreadyCompletedMessage = "Task already completed"

// IsAlreadyCompleted reports whether err is the backend's rejection of a
// task that was completed before. Callers treat it as success.
func IsAlreadyCompleted(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		return false
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(se.Body), &body) != nil {
		return false
	}
	return body.Message == alreadyCompletedMessage
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
