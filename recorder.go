package habitat

import "time"

// Recorder receives counts of supervisor commands and reconciliations,
// typically to export them as metrics
type Recorder interface {
	// ObserveCommand is called once per hab subprocess
	ObserveCommand(op Operation, ok bool)
	// ObserveReconcile is called once per Reconcile call
	ObserveReconcile(outcome Outcome, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(Operation, bool)                 {}
func (nopRecorder) ObserveReconcile(Outcome, error, time.Duration) {}
