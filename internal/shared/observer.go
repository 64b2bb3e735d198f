package shared

// TransitionObserver is notified after a status change commits.
type TransitionObserver interface {
	ObserveTransition(entity, from, to string)
}

// NopObserver ignores transitions.
type NopObserver struct{}

// ObserveTransition implements TransitionObserver.
func (NopObserver) ObserveTransition(string, string, string) {}
