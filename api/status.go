package api

import (
	"sync"
)

var (
	statusFunctions sync.Map
)

// RegisterStatusSource makes the map returned by queryStatusFunc part of the status endpoint's payload, keyed by
// source. Registering the same source twice replaces the earlier function.
func RegisterStatusSource(source string, queryStatusFunc func() map[string]interface{}) {

	statusFunctions.Store(source, queryStatusFunc)

}

func assembleStatus() map[string]interface{} {

	status := make(map[string]interface{})

	statusFunctions.Range(func(key, value any) bool {
		sourceStatus := value.(func() map[string]interface{})()
		status[key.(string)] = sourceStatus
		return true
	})

	return status

}
