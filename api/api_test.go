package api

import (
	"fmt"
	"io"
)

const (
	sourceProgress = "progress"
	sourceOutcomes = "outcomes"
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

var (
	dummyProgress = map[string]any{
		"currentScenario": "Partition-Distribution-with-100-Data-Items",
		"numScenarios":    float64(12),
		"numFinished":     float64(3),
	}
	dummyOutcomes = map[string]any{
		"Partition-Distribution-with-100-Data-Items": true,
	}
)

func resetStatusSources() {

	statusFunctions.Range(func(key, _ any) bool {
		statusFunctions.Delete(key)
		return true
	})

}

func tryResponseRead(body io.Reader) ([]byte, error) {
	return io.ReadAll(body)
}

func mapsEqualInContent(reference map[string]any, candidate map[string]any) (bool, string) {

	if len(reference) != len(candidate) {
		return false, "given maps do not have same length, hence cannot have equal content"
	}

	for k1, v1 := range reference {
		if v2, ok := candidate[k1]; !ok {
			return false, fmt.Sprintf("key wanted in candidate map, but not found: %s", k1)
		} else if v1 != v2 {
			return false, fmt.Sprintf("key '%s' associated with different values -- wanted: %v; got: %v", k1, v1, v2)
		}
	}

	return true, ""

}
