package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"motionduel/duel"
)

// Admin serves runtime inspection and tuning for one engine.
type Admin struct {
	engine *duel.Engine
	sim    *LinkSim
	link   *LinkMetrics
}

// NewAdmin builds the handlers. sim and link may be nil when there is no peer link.
func NewAdmin(e *duel.Engine, sim *LinkSim, link *LinkMetrics) *Admin {
	return &Admin{engine: e, sim: sim, link: link}
}

// Register mounts the admin routes on mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/admin/reset", a.HandleReset)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/state", a.HandleState)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

type adminConfig struct {
	Threshold          *float64 `json:"threshold,omitempty"`
	SimulateDelayMinMs *int     `json:"simulateDelayMinMs,omitempty"`
	SimulateDelayMaxMs *int     `json:"simulateDelayMaxMs,omitempty"`
	SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`

	// read-only
	TurnDeadlineMs *int64 `json:"turnDeadlineMs,omitempty"`
	CooldownMs     *int64 `json:"cooldownMs,omitempty"`
	MaxRounds      *int   `json:"maxRounds,omitempty"`
	MaxScore       *int   `json:"maxScore,omitempty"`
}

func (a *Admin) currentConfig() adminConfig {
	cfg := a.engine.Config()
	th := a.engine.Threshold()
	deadline := cfg.TurnDeadline.Milliseconds()
	cooldown := cfg.Cooldown.Milliseconds()
	cur := adminConfig{
		Threshold:      &th,
		TurnDeadlineMs: &deadline,
		CooldownMs:     &cooldown,
		MaxRounds:      &cfg.MaxRounds,
		MaxScore:       &cfg.MaxScore,
	}
	if a.sim != nil {
		sc := a.sim.Get()
		minMs, maxMs := int(sc.DelayMin.Milliseconds()), int(sc.DelayMax.Milliseconds())
		cur.SimulateDelayMinMs = &minMs
		cur.SimulateDelayMaxMs = &maxMs
		cur.SimulateDropProb = &sc.DropProb
	}
	return cur
}

// HandleConfig reads or updates the tunables.
// GET  /admin/config  current values
// POST /admin/config  JSON body with the fields to change
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.currentConfig())
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TurnDeadlineMs != nil || body.CooldownMs != nil || body.MaxRounds != nil || body.MaxScore != nil {
			http.Error(w, "match timing is fixed at startup", http.StatusBadRequest)
			return
		}
		simTouched := body.SimulateDelayMinMs != nil || body.SimulateDelayMaxMs != nil || body.SimulateDropProb != nil
		if simTouched && a.sim == nil {
			http.Error(w, "no peer link to simulate on", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"ok": true}
		if simTouched {
			sc := a.sim.Get()
			if body.SimulateDelayMinMs != nil {
				sc.DelayMin = time.Duration(*body.SimulateDelayMinMs) * time.Millisecond
			}
			if body.SimulateDelayMaxMs != nil {
				sc.DelayMax = time.Duration(*body.SimulateDelayMaxMs) * time.Millisecond
			}
			if body.SimulateDropProb != nil {
				sc.DropProb = *body.SimulateDropProb
			}
			if err := a.sim.Set(sc); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if body.Threshold != nil {
			if err := a.engine.SetThreshold(*body.Threshold); errors.Is(err, duel.ErrInvalidActionConfig) {
				resp["warning"] = err.Error()
			}
		}
		cur := a.currentConfig()
		resp["config"] = cur
		logger().Infow("config updated", "threshold", *cur.Threshold, "sim", a.sim.Get())
		writeJSON(w, http.StatusOK, resp)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleReset posts Reset to the engine. POST /admin/reset
func (a *Admin) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.engine.Reset() {
		http.Error(w, "engine busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// HandleMetrics reports engine and link counters. GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := a.engine.Snapshot()
	payload := map[string]any{
		"phase":  snap.Phase.String(),
		"round":  snap.Round,
		"engine": a.engine.Metrics().Snapshot(),
	}
	if a.link != nil {
		payload["link"] = a.link.Snapshot()
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleState returns the current engine snapshot. GET /state
func (a *Admin) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(a.engine.Snapshot()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
