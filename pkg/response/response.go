package response

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"purchase-settlement-api/pkg/apierror"
)

// Response is the success envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta is offset pagination metadata.
type Meta struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// Ack is the body returned to webhook deliveries.
type Ack struct {
	Received bool `json:"received"`
}

func write(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Response] Failed to encode body: %v", err)
	}
}

// JSON sends data in the success envelope.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{Success: true, Data: data})
}

// Paginated sends a page of results with its offset metadata.
func Paginated(w http.ResponseWriter, data interface{}, limit, offset int, total int64) {
	write(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Limit: limit, Offset: offset, Total: total},
	})
}

// Received acknowledges a webhook delivery. Always 200.
func Received(w http.ResponseWriter) {
	JSON(w, http.StatusOK, Ack{Received: true})
}

// Error sends err in the failure envelope. Anything that is not an
// *apierror.Error is logged and reported as a 500 without its message.
func Error(w http.ResponseWriter, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		log.Printf("[Response] Unhandled error: %v", err)
		apiErr = apierror.InternalError("")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	w.Write(apiErr.ToJSON())
}

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.PayloadTooLarge("")
		}
		return apierror.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// Created sends a 201 response.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 response.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
