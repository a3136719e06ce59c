package api

import (
	"net/http"
)

// GetQuota возвращает состояние дневной квоты текущего пользователя.
// GET /api/v1/quota
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	counter, err := h.admission.QuotaFor(r.Context(), owner)
	if HandleAdmissionError(w, h.logger, err) {
		return
	}

	Success(w, QuotaFromDomain(*counter))
}
