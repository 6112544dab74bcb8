package collector

import (
	"fmt"
	"strings"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// QueryFailure records one metric-type query that failed during a pass
type QueryFailure struct {
	Component power.Component
	Expr      string
	Err       error
}

func (f QueryFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Component, f.Err)
}

// PartialCollectionWarning is attached to a pass result when some, but not
// all, metric-type queries failed. The records are still usable.
type PartialCollectionWarning struct {
	Scope     power.Scope
	Attempted int
	Failures  []QueryFailure
}

func (w *PartialCollectionWarning) Error() string {
	parts := make([]string, 0, len(w.Failures))
	for _, f := range w.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("partial %s collection: %d of %d queries failed (%s)",
		w.Scope, len(w.Failures), w.Attempted, strings.Join(parts, "; "))
}

// FailedComponents returns the components whose queries failed
func (w *PartialCollectionWarning) FailedComponents() []power.Component {
	out := make([]power.Component, 0, len(w.Failures))
	for _, f := range w.Failures {
		out = append(out, f.Component)
	}
	return out
}

// CollectionError means a pass produced no usable records: the anchoring
// query failed, every query failed, or the pass ran out of time.
type CollectionError struct {
	Scope    power.Scope
	Reason   string
	Failures []QueryFailure
	Err      error
}

func (e *CollectionError) Error() string {
	msg := fmt.Sprintf("%s collection failed: %s", e.Scope, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	for _, f := range e.Failures {
		msg += "; " + f.String()
	}
	return msg
}

func (e *CollectionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
