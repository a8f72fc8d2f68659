package geo

import (
	"sync"
	"time"
)

// LookupObservation captures one Invoker.Lookup outcome.
type LookupObservation struct {
	Tool       string
	Attempts   int
	Duration   time.Duration
	OutputSize int
	Overflowed bool
	Success    bool
	ErrorCode  string
}

// RetryObservation captures one retried lookup attempt.
type RetryObservation struct {
	Tool      string
	Attempt   int
	ErrorCode string
}

// ProbeObservation captures one availability probe.
type ProbeObservation struct {
	Tool      string
	Available bool
	Duration  time.Duration
	ErrorCode string
}

// Observer receives geolocation observability events.
type Observer interface {
	ObserveLookup(observation LookupObservation)
	ObserveRetry(observation RetryObservation)
	ObserveProbe(observation ProbeObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveLookup(LookupObservation) {}
func (noopObserver) ObserveRetry(RetryObservation)   {}
func (noopObserver) ObserveProbe(ProbeObservation)   {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide observer. nil restores the no-op observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}

func emitLookupObservation(observation LookupObservation) {
	currentObserver().ObserveLookup(observation)
}

func emitRetryObservation(observation RetryObservation) {
	currentObserver().ObserveRetry(observation)
}

func emitProbeObservation(observation ProbeObservation) {
	currentObserver().ObserveProbe(observation)
}
