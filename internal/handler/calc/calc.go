package calc

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler evaluates stateless arithmetic and trigonometric requests. It has
// no connection to the message log or the relay; it exists for parity with
// the calculator exchanges the original server family shipped.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

// RegisterRoutes mounts the calculator endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/calc", h.handleCalc)
}

func (h *Handler) handleCalc(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	op := query.Get("op")

	a, err := strconv.ParseFloat(query.Get("a"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "parameter a must be a number")
		return
	}

	var result float64
	switch op {
	case "sin":
		result = math.Sin(a)
	case "cos":
		result = math.Cos(a)
	case "tan":
		result = math.Tan(a)
	case "add", "sub", "mul", "div":
		b, err := strconv.ParseFloat(query.Get("b"), 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "parameter b must be a number")
			return
		}
		switch op {
		case "add":
			result = a + b
		case "sub":
			result = a - b
		case "mul":
			result = a * b
		case "div":
			if b == 0 {
				respondError(w, http.StatusBadRequest, "division by zero")
				return
			}
			result = a / b
		}
	default:
		respondError(w, http.StatusBadRequest, "unknown op")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"op":     op,
		"result": result,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
