package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jklarsen/bookfeed/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses an integer query parameter, returning def when absent or
// unparseable. Values above max are clamped.
func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// levelDTO is the JSON rendering of a price level. Decimals are strings so
// consumers keep exact values.
type levelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func toLevelDTO(l *domain.PriceLevel) *levelDTO {
	if l == nil {
		return nil
	}
	return &levelDTO{Price: l.Price.String(), Size: l.Size.String()}
}

func toLevelDTOs(levels []domain.PriceLevel) []levelDTO {
	out := make([]levelDTO, 0, len(levels))
	for i := range levels {
		out = append(out, *toLevelDTO(&levels[i]))
	}
	return out
}
