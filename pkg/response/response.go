package response

import (
	"encoding/json"
	"net/http"
)

type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Code     string      `json:"code,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
	Message  string      `json:"message,omitempty"`
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Outcome answers a successful operation whose audit leg may have failed.
func Outcome(w http.ResponseWriter, statusCode int, data interface{}, degraded bool) {
	write(w, statusCode, Response{
		Success:  true,
		Data:     data,
		Degraded: degraded,
	})
}

// Accepted answers an operation whose effect completes asynchronously, such
// as a command awaiting the device's acknowledgment.
func Accepted(w http.ResponseWriter, data interface{}, degraded bool) {
	Outcome(w, http.StatusAccepted, data, degraded)
}

func Error(w http.ResponseWriter, statusCode int, err string) {
	write(w, statusCode, Response{
		Success: false,
		Error:   err,
	})
}

func ErrorWithCode(w http.ResponseWriter, statusCode int, code, err string) {
	write(w, statusCode, Response{
		Success: false,
		Error:   err,
		Code:    code,
	})
}

func BadRequest(w http.ResponseWriter, err string) {
	Error(w, http.StatusBadRequest, err)
}

func Unauthorized(w http.ResponseWriter, err string) {
	Error(w, http.StatusUnauthorized, err)
}

func Forbidden(w http.ResponseWriter, err string) {
	Error(w, http.StatusForbidden, err)
}

func NotFound(w http.ResponseWriter, err string) {
	Error(w, http.StatusNotFound, err)
}

func InternalError(w http.ResponseWriter, err string) {
	Error(w, http.StatusInternalServerError, err)
}
