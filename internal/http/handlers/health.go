package handlers

import (
	"net/http"

	"github.com/nguyen2715-hue/web/internal/domain"
)

// Health reports liveness plus how many credentials each provider step has.
// Counts only; secrets never leave the pool.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "active_run": a.Runner != nil && a.Runner.Active()}
	if a.Credentials != nil {
		body["credentials"] = map[string]int{
			"gemini":           len(a.Credentials.ListCredentials(domain.ProviderGemini, domain.RoleDefault)),
			"whisk_upload":     len(a.Credentials.ListCredentials(domain.ProviderWhisk, domain.RoleUpload)),
			"whisk_generation": len(a.Credentials.ListCredentials(domain.ProviderWhisk, domain.RoleGeneration)),
		}
	}
	a.json(w, http.StatusOK, body)
}
