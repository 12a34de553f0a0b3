package api

import (
	"encoding/json"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/logging"
	"net/http"
	"sync"
	"time"
)

type (
	healthState struct {
		Up    bool      `json:"up"`
		Since time.Time `json:"since"`
	}
	health struct {
		mu sync.RWMutex
		s  healthState
	}
)

var (
	liveness  = &health{s: healthState{Up: true, Since: time.Now()}}
	readiness = &health{}
	lp        *logging.LogProvider
)

var (
	livenessHandler = onlyGet(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, liveness.state())
	})
	// readinessHandler answers 503 until scenarios are about to run.
	readinessHandler = onlyGet(func(w http.ResponseWriter, _ *http.Request) {
		s := readiness.state()
		if !s.Up {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, s)
	})
	statusHandler = onlyGet(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, assembleStatus())
	})
)

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

// Expose serves liveness, readiness, and status on the given port until the returned server is shut down.
func Expose(port int) *http.Server {

	mux := http.NewServeMux()
	mux.HandleFunc("/liveness", livenessHandler)
	mux.HandleFunc("/readiness", readinessHandler)
	mux.HandleFunc("/status", statusHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		lp.LogApiEvent(fmt.Sprintf("exposing api on port %d", port), log.InfoLevel)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lp.LogApiEvent(fmt.Sprintf("api server stopped: %v", err), log.ErrorLevel)
		}
	}()

	return server

}

func RaiseReady() {
	readiness.set(true)
}

func RaiseNotReady() {
	readiness.set(false)
}

func (p *health) set(up bool) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.s.Up != up || p.s.Since.IsZero() {
		p.s = healthState{Up: up, Since: time.Now()}
	}

}

func (p *health) state() healthState {

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.s

}

func onlyGet(h http.HandlerFunc) http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}

}

func writeJSON(w http.ResponseWriter, v any) {

	bytes, err := json.Marshal(v)
	if err != nil {
		lp.LogApiEvent(fmt.Sprintf("unable to marshal response: %v", err), log.ErrorLevel)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(bytes)

}
