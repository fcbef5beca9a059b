// Package statusserver exposes the attempter's status as read-only JSON
// over HTTP (spec.md sec.8): no control verbs, so it is safe to leave
// reachable to unprivileged local tooling or monitoring.
//
// Grounded on canonical-pebble's internals/daemon package for the
// Command/gorilla-mux routing table shape, and on sub/rpcd/poll.go's
// pattern of snapshotting a lock-guarded status struct for a poller
// rather than streaming live internal state.
package statusserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Cloud-Foundations/abupdate/lib/attempter"
	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

var errNoHAL = errors.New("statusserver: no boot-slot HAL configured")

// Server serves a read-only view of the attempter and boot-slot state.
type Server struct {
	attempter  *attempter.Attempter
	hal        bootslot.HAL
	router     *mux.Router
	httpServer *http.Server
}

// New returns a Server listening on addr once Serve is called. hal may
// be nil, in which case /v1/slots reports not-available.
func New(a *attempter.Attempter, hal bootslot.HAL, addr string) *Server {
	s := &Server{attempter: a, hal: hal, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/slots", s.handleSlots).Methods(http.MethodGet)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ServeHTTP lets Server itself be used as an http.Handler, e.g. for
// tests that don't want to bind a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve blocks, accepting connections until Shutdown is called.
func (s *Server) Serve() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	syncResponse(map[string]string{"health": "ok"}).ServeHTTP(w, r)
}

// statusView is the wire-friendly projection of attempter.Status: its
// LastError is an error, which encoding/json can't marshal directly.
type statusView struct {
	State               string    `json:"state"`
	CurrentVersion      string    `json:"current-version"`
	NewVersion          string    `json:"new-version,omitempty"`
	Progress            float64   `json:"progress"`
	LastCheckedAt       time.Time `json:"last-checked-at"`
	LastError           string    `json:"last-error,omitempty"`
	ConsecutiveFailures uint64    `json:"consecutive-failures"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.attempter.Status()
	view := statusView{
		State:               st.State.String(),
		CurrentVersion:      st.CurrentVersion,
		NewVersion:          st.NewVersion,
		Progress:            st.Progress,
		LastCheckedAt:       st.LastCheckedAt,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
	if st.LastError != nil {
		view.LastError = st.LastError.Error()
	}
	syncResponse(view).ServeHTTP(w, r)
}

type slotView struct {
	Current bool   `json:"current"`
	State   string `json:"state"`
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if s.hal == nil {
		errorResponse(http.StatusServiceUnavailable, errNoHAL).ServeHTTP(w, r)
		return
	}
	current, err := s.hal.CurrentSlot()
	if err != nil {
		errorResponse(http.StatusInternalServerError, err).ServeHTTP(w, r)
		return
	}
	other, err := s.hal.OtherSlot()
	if err != nil {
		errorResponse(http.StatusInternalServerError, err).ServeHTTP(w, r)
		return
	}
	result := make(map[string]slotView, 2)
	for _, slot := range []update.Slot{current, other} {
		state, err := s.hal.State(slot)
		if err != nil {
			errorResponse(http.StatusInternalServerError, err).ServeHTTP(w, r)
			return
		}
		result[slotLabel(slot)] = slotView{Current: slot == current, State: state.String()}
	}
	syncResponse(result).ServeHTTP(w, r)
}

func slotLabel(slot update.Slot) string {
	switch slot {
	case 0:
		return "slot-a"
	case 1:
		return "slot-b"
	default:
		return "slot-unknown"
	}
}
