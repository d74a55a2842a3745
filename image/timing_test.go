package image

import (
	"testing"
	"time"
)

func TestTransferTimingSummary(t *testing.T) {
	var tt TransferTiming
	if mean, stddev := tt.Summary(); mean != 0 || stddev != 0 {
		t.Fatalf("expected zero summary with no observations, got mean=%v stddev=%v", mean, stddev)
	}

	tt.Observe(10 * time.Millisecond)
	tt.Observe(20 * time.Millisecond)
	tt.Observe(30 * time.Millisecond)

	mean, stddev := tt.Summary()
	if mean < 19.9 || mean > 20.1 {
		t.Fatalf("expected mean ~20ms, got %v", mean)
	}
	if stddev <= 0 {
		t.Fatalf("expected a positive stddev, got %v", stddev)
	}
}
