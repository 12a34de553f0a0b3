package report

import (
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/logging"
	"hazeltopo/status"
	"sync"
	"time"
)

type (
	Outcome struct {
		Name       string
		Success    bool
		Message    string
		RecordedAt time.Time
	}
	// Recorder receives one call per recorded outcome. Implementations must not fail for well-formed input.
	Recorder interface {
		RecordResult(name string, success bool, message string)
	}
	LoggingRecorder struct{}
	// StatusRecorder exposes recorded outcomes through a status gatherer, keyed by outcome name.
	StatusRecorder struct {
		g *status.Gatherer
	}
	MemoryRecorder struct {
		mu       sync.Mutex
		outcomes []Outcome
	}
	multiRecorder []Recorder
)

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func (r LoggingRecorder) RecordResult(name string, success bool, message string) {

	if success {
		lp.LogScenarioEvent(name, fmt.Sprintf("passed: %s", message), log.InfoLevel)
	} else {
		lp.LogScenarioEvent(name, fmt.Sprintf("failed: %s", message), log.WarnLevel)
	}

}

func NewStatusRecorder(g *status.Gatherer) *StatusRecorder {
	return &StatusRecorder{g}
}

func (r *StatusRecorder) RecordResult(name string, success bool, message string) {

	r.g.InsertSynchronously(status.Update{Key: name, Value: map[string]any{
		"success": success,
		"message": message,
	}})

}

func (r *MemoryRecorder) RecordResult(name string, success bool, message string) {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes = append(r.outcomes, Outcome{Name: name, Success: success, Message: message, RecordedAt: time.Now()})

}

// Outcomes returns a copy of everything recorded so far, in recording order.
func (r *MemoryRecorder) Outcomes() []Outcome {

	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Outcome(nil), r.outcomes...)

}

func (r *MemoryRecorder) NumFailed() int {

	r.mu.Lock()
	defer r.mu.Unlock()

	failed := 0
	for _, o := range r.outcomes {
		if !o.Success {
			failed++
		}
	}

	return failed

}

// Multi fans every outcome out to all given recorders in order.
func Multi(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

func (m multiRecorder) RecordResult(name string, success bool, message string) {

	for _, r := range m {
		r.RecordResult(name, success, message)
	}

}
