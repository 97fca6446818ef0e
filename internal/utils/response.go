package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

// APIResponse is the envelope every check-in endpoint answers with. Code
// carries the engine result code so scanners can branch without parsing
// the human-readable message.
type APIResponse struct {
	Success   bool        `json:"success"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

// ResultResponse wraps a coded outcome. Failed outcomes repeat the code in
// Error for clients that only look there.
func ResultResponse(ok bool, code, message string, data interface{}) APIResponse {
	resp := APIResponse{
		Success:   ok,
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
	if !ok {
		resp.Error = code
	}
	return resp
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
