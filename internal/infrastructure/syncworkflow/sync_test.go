package syncworkflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

func TestRunAll_PreservesOrderAndBoundsParallelism(t *testing.T) {
	engine := &Engine{MaxParallel: 2}
	var inFlight, peak atomic.Int32

	act := domain.NewActivity("square", func(_ context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if n == 3 {
			return 0, errors.New("three")
		}
		return n * n, nil
	})

	dr := engine.newRunner(context.Background())
	outs, errs := domain.RunActivities(dr, act, []int{1, 2, 3, 4, 5})

	want := []int{1, 4, 0, 16, 25}
	for i := range want {
		if outs[i] != want[i] {
			t.Errorf("outs[%d] = %d, want %d", i, outs[i], want[i])
		}
	}
	if errs[2] == nil {
		t.Error("expected an error for input 3")
	}
	for i, err := range errs {
		if i != 2 && err != nil {
			t.Errorf("errs[%d] = %v", i, err)
		}
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak parallelism = %d, want at most 2", p)
	}
}
