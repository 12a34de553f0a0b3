package status

import (
	"sync"
)

type (
	Update struct {
		Key   string
		Value any
	}
	// Gatherer keeps the latest value per key for the status endpoint. The runner publishes progress through the
	// update channel while Listen runs; recorders may insert synchronously at any time.
	Gatherer struct {
		mu       sync.RWMutex
		status   map[string]any
		updates  chan Update
		quit     chan struct{}
		stopped  chan struct{}
		stopOnce sync.Once
	}
)

const (
	KeyCurrentScenario = "currentScenario"
	KeyCurrentPhase    = "currentPhase"
	KeyNumScenarios    = "numScenarios"
	KeyNumFinished     = "numFinished"
	KeyNumFailed       = "numFailed"
)

const (
	keyListening = "listening"
	updateBuffer = 64
)

func NewGatherer() *Gatherer {

	return &Gatherer{
		status:  map[string]any{},
		updates: make(chan Update, updateBuffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

}

func (g *Gatherer) InsertSynchronously(u Update) {

	g.mu.Lock()
	defer g.mu.Unlock()

	g.status[u.Key] = u.Value

}

// Publish queues the update for the listening goroutine. Updates published once listening has stopped are
// dropped.
func (g *Gatherer) Publish(u Update) {

	select {
	case <-g.stopped:
	case g.updates <- u:
	}

}

func (g *Gatherer) AssembleStatusCopy() map[string]any {

	g.mu.RLock()
	defer g.mu.RUnlock()

	c := make(map[string]any, len(g.status))
	for k, v := range g.status {
		c[k] = v
	}

	return c

}

// Listen applies published updates until StopListen is called. Updates still queued at that point are applied
// before Listen returns.
func (g *Gatherer) Listen() {

	g.InsertSynchronously(Update{Key: keyListening, Value: true})

	for {
		select {
		case u := <-g.updates:
			g.InsertSynchronously(u)
		case <-g.quit:
			g.drain()
			g.InsertSynchronously(Update{Key: keyListening, Value: false})
			close(g.stopped)
			return
		}
	}

}

func (g *Gatherer) drain() {

	for {
		select {
		case u := <-g.updates:
			g.InsertSynchronously(u)
		default:
			return
		}
	}

}

// StopListen asks Listen to return and waits until it has. It must only be called once Listen runs.
func (g *Gatherer) StopListen() {

	g.stopOnce.Do(func() {
		close(g.quit)
	})
	<-g.stopped

}

// ListeningStopped reports whether a Listen call has finished.
func (g *Gatherer) ListeningStopped() bool {

	select {
	case <-g.stopped:
		return true
	default:
		return false
	}

}
