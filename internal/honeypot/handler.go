package honeypot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/security"
)

// Handler serves decoy routes and reports every hit to the Security
// Engine (C7) through its ordinary AnalyzeRequest entrypoint, the §6
// "collaborator" boundary SPEC_FULL.md asks this feature to
// demonstrate: a honeypot hit is described as a synthesized
// RequestData and run through the registered detectors, so whatever
// they detect is scored and actioned by the same decision table real
// traffic goes through, rather than a separate honeypot-only alert
// path. The hit itself produces no DetectionResult.
type Handler struct {
	registry *Registry
	tracker  *Tracker
	engine   *security.Engine
	logger   *zap.Logger
}

// New builds a Handler wired to engine, the same Security Engine
// instance the Request Pipeline uses for live traffic.
func New(engine *security.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: NewRegistry(),
		tracker:  NewTracker(),
		engine:   engine,
		logger:   logger,
	}
}

// Mount registers every decoy endpoint on r.
func (h *Handler) Mount(r chi.Router) {
	for _, e := range h.registry.Paths() {
		e := e
		r.Method(e.Method, e.Path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.serve(w, req, e)
		}))
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, e Endpoint) {
	ip := r.RemoteAddr
	ua := r.Header.Get("User-Agent")

	profile := h.tracker.GetOrCreate(ip, ua)
	h.tracker.RecordHit(profile, e.Path, e.TrapKeywords)

	h.logger.Warn("honeypot access",
		zap.String("path", e.Path),
		zap.String("ip", ip),
		zap.String("threat_level", profile.ThreatLevel),
		zap.Int("hits", profile.HoneypotHits),
	)

	if e.AlertOnAccess {
		h.reportToSecurityEngine(r.Context(), profile, e)
	}

	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}

	switch e.ResponseType {
	case "redirect":
		http.Redirect(w, r, e.RedirectTo, http.StatusFound)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(e.ResponseData)
	}
}

// reportToSecurityEngine synthesizes a RequestData describing the
// probe and runs it through the Security Engine's own detector pool,
// so a custom rule or threat-intel match on the attacker's IP/UA
// still fires the ordinary block/alert/quarantine decision table.
func (h *Handler) reportToSecurityEngine(ctx context.Context, profile *Profile, e Endpoint) {
	data := security.RequestData{
		AgentID: profile.AttackerID,
		Model:   "honeypot",
		System:  fmt.Sprintf("honeypot probe: %s %s", e.Method, e.Path),
		Messages: []security.MessagePart{
			{Role: "attacker", Content: fmt.Sprintf("ip=%s ua=%s hits=%d", profile.IPAddress, profile.UserAgent, profile.HoneypotHits)},
		},
		ToolDefs: e.TrapKeywords,
	}
	h.engine.AnalyzeRequest(ctx, profile.AttackerID, data)
}

// Stats exposes the attacker-tracking snapshot for a health/ops
// endpoint.
func (h *Handler) Stats() Stats { return h.tracker.Stats() }
