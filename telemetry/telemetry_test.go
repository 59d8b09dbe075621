package telemetry

import "testing"

func TestSampleComputesDeltas(t *testing.T) {
	var s Sampler
	runq := func() int { return 3 }

	snap := s.Sample(runq, 100, 5, 4096)
	if snap.RunQ != 3 || snap.IRQRate != 100 || snap.PFRate != 5 || snap.FreeKB != 4096 {
		t.Fatalf("unexpected first sample: %+v", snap)
	}

	snap = s.Sample(runq, 150, 7, 2048)
	if snap.IRQRate != 50 {
		t.Fatalf("IRQRate = %d, want 50", snap.IRQRate)
	}
	if snap.PFRate != 2 {
		t.Fatalf("PFRate = %d, want 2", snap.PFRate)
	}
}

func TestSampleSaturatesOnCounterGoingBackwards(t *testing.T) {
	var s Sampler
	runq := func() int { return 0 }

	s.Sample(runq, 100, 10, 0)

	snap := s.Sample(runq, 50, 3, 0)
	if snap.IRQRate != 0 {
		t.Fatalf("IRQRate = %d, want 0 (saturating sub)", snap.IRQRate)
	}
	if snap.PFRate != 0 {
		t.Fatalf("PFRate = %d, want 0 (saturating sub)", snap.PFRate)
	}
}
