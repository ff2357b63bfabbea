package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verifyd/verifyd/internal/evidence"
	"github.com/verifyd/verifyd/internal/lifecycle"
	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/ratelimit"
	"github.com/verifyd/verifyd/internal/session"
	"github.com/verifyd/verifyd/internal/trust"
	"github.com/verifyd/verifyd/internal/utils"
)

// Handlers bundles the HTTP surface over the lifecycle controller.
type Handlers struct {
	ctrl          *lifecycle.Controller
	collector     *evidence.Collector
	hub           *notify.Hub
	log           *utils.Logger
	verifyLimiter ratelimit.Limiter
}

// NewHandlers wires the handler set.
func NewHandlers(ctrl *lifecycle.Controller, collector *evidence.Collector, hub *notify.Hub, log *utils.Logger, verifyLimiter ratelimit.Limiter) *Handlers {
	return &Handlers{
		ctrl:          ctrl,
		collector:     collector,
		hub:           hub,
		log:           log,
		verifyLimiter: verifyLimiter,
	}
}

type initRequest struct {
	URL string `json:"url"`
}

// InitSession creates a verification session. The checked URL comes from the
// X-Client-Url header, or from the body for clients that cannot set headers.
func (h *Handlers) InitSession(w http.ResponseWriter, r *http.Request) {
	checkedURL := r.Header.Get("X-Client-Url")
	if checkedURL == "" {
		var body initRequest
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		checkedURL = body.URL
	}
	if checkedURL == "" {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, map[string]string{"detail": "missing X-Client-Url header"})
		return
	}

	meta := session.ClientMeta{IP: ClientIP(r), UserAgent: r.UserAgent()}
	res, err := h.ctrl.Init(checkedURL, meta)
	if err != nil {
		h.log.Error("init session: %v", err)
		utils.ErrorResponse(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, res)
}

// PollSession reports the session's status and, once consumed, its result.
func (h *Handlers) PollSession(w http.ResponseWriter, r *http.Request) {
	nonce := mux.Vars(r)["nonce"]
	res, err := h.ctrl.Poll(nonce)
	if err != nil {
		utils.ErrorResponse(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, res)
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyToken consumes a session: scores it and returns the full result.
func (h *Handlers) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		utils.JSONResponse(w, http.StatusUnprocessableEntity, map[string]string{"detail": "missing token"})
		return
	}

	ip := ClientIP(r)
	meta := trust.Metadata{
		ClientIP:        ip,
		UserAgent:       r.UserAgent(),
		SecureTransport: SecureTransport(r),
		RateFlagged:     h.verifyLimiter.Flagged("verify:" + ip),
	}
	res, err := h.ctrl.Verify(body.Token, meta)
	if err != nil {
		utils.ErrorResponse(w, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, res)
}

type proximityRequest struct {
	ProximityUUID  string `json:"proximity_uuid"`
	SignalStrength *int   `json:"signal_strength,omitempty"`
	Supported      *bool  `json:"supported,omitempty"`
}

// SubmitProximity records a proximity detection. The response is 202 no
// matter what: evidence submission is best-effort and must not reveal
// whether a session exists for the UUID.
func (h *Handlers) SubmitProximity(w http.ResponseWriter, r *http.Request) {
	var body proximityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		supported := true
		if body.Supported != nil {
			supported = *body.Supported
		}
		h.collector.RecordMatch(body.ProximityUUID, body.SignalStrength, supported)
	}
	utils.JSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
