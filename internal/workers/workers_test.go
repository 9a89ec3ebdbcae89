package workers

import (
	"runtime"
	"testing"
)

func TestCountRespectsLimit(t *testing.T) {
	if got := Count(2.0, 3); got > 3 {
		t.Errorf("Count(2.0, 3) = %d, want <= 3", got)
	}
	if got := Count(1.0, 0); got < 1 {
		t.Errorf("Count(1.0, 0) = %d, want >= 1", got)
	}
}

func TestCountScalesWithCPUs(t *testing.T) {
	cpus := runtime.GOMAXPROCS(0)

	if got := ForCPU(0); got != cpus {
		t.Errorf("ForCPU(0) = %d, want %d", got, cpus)
	}
	if got := ForIO(0); got != cpus*2 {
		t.Errorf("ForIO(0) = %d, want %d", got, cpus*2)
	}
	if got, want := ForMixed(0), int(float64(cpus)*1.5); got != want {
		t.Errorf("ForMixed(0) = %d, want %d", got, want)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SWEEP_WORKERS", "5")
	if got := Count(1.0, 0); got != 5 {
		t.Errorf("Count with override = %d, want 5", got)
	}
	if got := Count(1.0, 2); got != 2 {
		t.Errorf("Count with override and limit = %d, want 2", got)
	}

	t.Setenv("SWEEP_WORKERS", "not-a-number")
	if got := Count(1.0, 0); got < 1 {
		t.Errorf("Count with bad override = %d", got)
	}
}
