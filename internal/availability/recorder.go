package availability

import (
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

// Recorder receives engine measurements. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	PolicyFallback(reason string)
	SourceFailure(source model.SourceKind)
	SlotsComputed(count int, degraded bool, elapsed time.Duration)
	WorkerFailure()
}

type nopRecorder struct{}

func (nopRecorder) PolicyFallback(string) {}
func (nopRecorder) SourceFailure(model.SourceKind) {}
func (nopRecorder) SlotsComputed(int, bool, time.Duration) {}
func (nopRecorder) WorkerFailure() {}
