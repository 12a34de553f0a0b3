package verify

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"hazeltopo/partitioning"
)

type Result struct {
	AllConsistent   bool
	Checked         int
	FirstFailingKey string
	// Missing distinguishes an absent key from one holding an unexpected value.
	Missing bool
	Found   any
	Err     error
}

var ErrInconsistentData = errors.New("data inconsistent with what was written")

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

// Verify reads key-0 up to key-(min(expectedCount, maxKeysToCheck)-1) in order and stops at the first key that is
// missing, holds an unexpected value, or cannot be read.
func Verify(ctx context.Context, m grid.Map, expectedCount, maxKeysToCheck int) Result {

	n := max(0, min(expectedCount, maxKeysToCheck))
	return VerifyKeys(ctx, m, partitioning.Keys(n), partitioning.Value)

}

// VerifyKeys checks keys in the given order; the i-th key is expected to hold expected(i).
func VerifyKeys(ctx context.Context, m grid.Map, keys []string, expected func(int) string) Result {

	r := Result{AllConsistent: true}

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return r.fail(key, false, nil, err)
		}
		r.Checked++
		v, err := m.Get(ctx, key)
		if err != nil {
			return r.fail(key, false, nil, err)
		}
		if v == nil {
			return r.fail(key, true, nil, nil)
		}
		if v != expected(i) {
			return r.fail(key, false, v, nil)
		}
	}

	lp.LogVerificationEvent(fmt.Sprintf("all %d checked keys consistent", r.Checked), log.DebugLevel)

	return r

}

func (r Result) fail(key string, missing bool, found any, err error) Result {

	r.AllConsistent = false
	r.FirstFailingKey = key
	r.Missing = missing
	r.Found = found
	r.Err = err

	lp.LogVerificationEvent(r.Message(), log.WarnLevel)

	return r

}

// Error returns nil for consistent results, otherwise an error matching ErrInconsistentData or, for read failures,
// the underlying error.
func (r Result) Error() error {

	if r.AllConsistent {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("unable to verify key '%s': %w", r.FirstFailingKey, r.Err)
	}

	return fmt.Errorf("%w: %s", ErrInconsistentData, r.Message())

}

func (r Result) Message() string {

	switch {
	case r.AllConsistent:
		return fmt.Sprintf("all %d checked keys hold their expected values", r.Checked)
	case r.Err != nil:
		return fmt.Sprintf("read of key '%s' failed: %v", r.FirstFailingKey, r.Err)
	case r.Missing:
		return fmt.Sprintf("key '%s' missing", r.FirstFailingKey)
	default:
		return fmt.Sprintf("key '%s' holds unexpected value '%v'", r.FirstFailingKey, r.Found)
	}

}

// AccessibilityMessage renders the outcome message of an accessibility check after a topology change.
func AccessibilityMessage(event string, r Result) string {

	state := "Maintained"
	if !r.AllConsistent {
		state = "Compromised"
	}

	msg := fmt.Sprintf("Data accessibility after %s: %s", event, state)
	if !r.AllConsistent {
		msg += fmt.Sprintf(" (%s)", r.Message())
	}

	return msg

}
