package filesystem

// Observer receives filesystem retry events. The metrics package installs a
// Prometheus-backed implementation at startup; a nil observer drops events.
type Observer interface {
	ObserveRetryAttempt(retryOp, volume string)
	ObserveRetrySuccess(retryOp, volume string)
	ObserveRetryFailure(retryOp, volume string)
	ObserveRetryDuration(retryOp, volume string, durationSeconds float64)
	ObserveStaleError(retryOp, volume string)
}

var observer Observer

// SetObserver installs the retry event observer. Call once at startup.
func SetObserver(o Observer) {
	observer = o
}

func observeRetryAttempt(retryOp, volume string) {
	if observer != nil {
		observer.ObserveRetryAttempt(retryOp, volume)
	}
}

func observeRetrySuccess(retryOp, volume string) {
	if observer != nil {
		observer.ObserveRetrySuccess(retryOp, volume)
	}
}

func observeRetryFailure(retryOp, volume string) {
	if observer != nil {
		observer.ObserveRetryFailure(retryOp, volume)
	}
}

func observeRetryDuration(retryOp, volume string, durationSeconds float64) {
	if observer != nil {
		observer.ObserveRetryDuration(retryOp, volume, durationSeconds)
	}
}

func observeStaleError(retryOp, volume string) {
	if observer != nil {
		observer.ObserveStaleError(retryOp, volume)
	}
}
