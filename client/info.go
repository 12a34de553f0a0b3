package client

import (
	"github.com/google/uuid"
	"sync"
)

var (
	clientID     uuid.UUID
	clientIDOnce sync.Once
)

// ID identifies this harness process in logs and in the grid client name.
func ID() uuid.UUID {

	clientIDOnce.Do(func() {
		clientID = uuid.New()
	})

	return clientID

}
