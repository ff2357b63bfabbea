package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verifyd/verifyd/internal/ratelimit"
)

// RouterOptions carries the per-route policy knobs.
type RouterOptions struct {
	InitLimiter      ratelimit.Limiter
	VerifyLimiter    ratelimit.Limiter
	CollectorKeyHash string
}

// NewRouter assembles the HTTP surface under /api/v1.
func NewRouter(h *Handlers, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/session/init", RateLimit(opts.InitLimiter, "init", h.InitSession)).Methods("POST")
	v1.HandleFunc("/session/poll/{nonce}", h.PollSession).Methods("GET")
	v1.HandleFunc("/session/verify", RateLimit(opts.VerifyLimiter, "verify", h.VerifyToken)).Methods("POST")
	v1.HandleFunc("/session/proximity", CollectorAuth(opts.CollectorKeyHash, h.SubmitProximity)).Methods("POST")
	v1.HandleFunc("/ws/verification/{token}", h.VerificationSocket).Methods("GET")
	return r
}
