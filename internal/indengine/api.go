package indengine

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"trendengine/internal/gateway"
	"trendengine/internal/indicator"
)

const maxReloadBody = 4096

// registerRoutes mounts the gateway and engine endpoints on the metrics server.
func (svc *Service) registerRoutes() {
	var history gateway.HistoryReader
	if svc.redisReader != nil {
		history = svc.redisReader.Client()
	}
	gateway.RegisterRoutes(svc.server, svc.hub, history)
	svc.server.Handle("/reload", http.HandlerFunc(svc.handleReload))
	svc.server.Handle("/config", http.HandlerFunc(svc.handleConfig))
}

type reloadResponse struct {
	Status    string `json:"status"`
	Specs     string `json:"specs"`
	Preserved int    `json:"preserved"`
	Created   int    `json:"created"`
}

// handleReload handles POST /reload with a specs body, e.g. "10:3,7:2.5:EMA".
// Unchanged configs keep their state; new ones cold-start.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReloadBody))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		http.Error(w, "empty specs", http.StatusBadRequest)
		return
	}

	specs, err := indicator.ParseSpecs(raw)
	if err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	newConfigs := indicator.ForTimeframes(svc.cfg.EnabledTFs, specs)
	if err := indicator.ValidateConfigs(newConfigs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}

	var preserved, created int
	var reloadErr error
	if err := svc.withEngine(r.Context(), func(e *indicator.Engine) {
		preserved, created, reloadErr = e.ReloadConfigs(newConfigs)
		if reloadErr == nil {
			svc.cfg.Specs = specs
			svc.cfg.IndicatorConfigs = newConfigs
		}
	}); err != nil {
		http.Error(w, "engine unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if reloadErr != nil {
		http.Error(w, "reload: "+reloadErr.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("[trendengine] reloaded %s: preserved=%d, created=%d", indicator.FormatSpecs(specs), preserved, created)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reloadResponse{
		Status:    "ok",
		Specs:     indicator.FormatSpecs(specs),
		Preserved: preserved,
		Created:   created,
	})
}

// handleConfig handles GET /config.
func (svc *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	var (
		configs []indicator.TFIndicatorConfig
		specs   string
	)
	if err := svc.withEngine(r.Context(), func(e *indicator.Engine) {
		configs = e.Configs()
		specs = indicator.FormatSpecs(svc.cfg.Specs)
	}); err != nil {
		http.Error(w, "engine unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tfs":     svc.cfg.EnabledTFs,
		"specs":   specs,
		"configs": configs,
	})
}
