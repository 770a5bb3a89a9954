package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// apiError es el cuerpo uniforme de todas las respuestas de error. El
// request id viaja también en el body para correlacionar sin headers.
type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, desc string) {
	WriteJSON(w, status, apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        w.Header().Get("X-Request-ID"),
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body con tolerancia a campos desconocidos (los
// proveedores de CRM agregan campos sin avisar). Exige Content-Type JSON y
// corta en 1MB; en error responde por w y retorna false.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := strings.ToLower(r.Header.Get("Content-Type")); !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Content-Type debe ser application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid_json", "json inválido")
		return false
	}
	return true
}
