package packet

import "testing"

func sum(packets []Packet) int64 {
	var total int64
	for _, p := range packets {
		total += p.Duration
	}
	return total
}

// Scenario 1 (spec.md §8): flat eviction, target 1000, 20 packets of
// duration 100 each -> retained count 10, total 1000.
func TestFlatEviction(t *testing.T) {
	rb := NewFlat(1000)
	for i := 0; i < 20; i++ {
		rb.Insert(Packet{StreamID: 0, Duration: 100})
	}
	got := rb.Snapshot(nil)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if total := sum(got); total != 1000 {
		t.Fatalf("total = %d, want 1000", total)
	}
}

// Scenario 3 (spec.md §8): minimum-duration snapshot returns the last
// 4 packets (total 400) from scenario 1's buffer.
func TestFlatMinimumSnapshot(t *testing.T) {
	rb := NewFlat(1000)
	for i := 0; i < 20; i++ {
		rb.Insert(Packet{StreamID: 0, Duration: 100})
	}
	min := int64(350)
	got := rb.Snapshot(&min)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if total := sum(got); total != 400 {
		t.Fatalf("total = %d, want 400", total)
	}
}

func TestFlatOrderPreservation(t *testing.T) {
	rb := NewFlat(10000)
	for i := int64(0); i < 5; i++ {
		rb.Insert(Packet{Duration: 10, PTS: i, HasPTS: true})
	}
	got := rb.Snapshot(nil)
	for i, p := range got {
		if p.PTS != int64(i) {
			t.Fatalf("order broken at %d: pts=%d", i, p.PTS)
		}
	}
}

func TestFlatUnderRetention(t *testing.T) {
	rb := NewFlat(1000)
	rb.Insert(Packet{Duration: 50})
	rb.Insert(Packet{Duration: 50})
	got := rb.Snapshot(nil)
	if total := sum(got); total != 100 {
		t.Fatalf("total = %d, want 100 (nothing evicted yet)", total)
	}
}

// Scenario 2 (spec.md §8): grouped eviction, target 1000, every packet
// has duration 100 and every third one is a keyframe.
// First contained packet must always be a keyframe; total in [1000,1300].
func TestGroupedEviction(t *testing.T) {
	rb := NewGrouped(1000)
	var durations []int64
	for i := 0; i < 15; i++ { // 15 groups of 3, matching spec.md §8 scenario 2
		durations = append(durations, 100, 100, 100)
	}
	for i, d := range durations {
		rb.Insert(Packet{Duration: d, IsKeyframe: i%3 == 0})
	}

	got := rb.Snapshot(nil)
	if len(got) == 0 {
		t.Fatal("expected non-empty snapshot")
	}
	if !got[0].IsKeyframe {
		t.Fatal("first packet must be a keyframe")
	}
	total := sum(got)
	if total < 1000 || total > 1300 {
		t.Fatalf("total = %d, want within [1000,1300]", total)
	}
}

func TestGroupedInvariantAcrossManyInserts(t *testing.T) {
	rb := NewGrouped(500)
	for i := 0; i < 100; i++ {
		rb.Insert(Packet{Duration: 100, IsKeyframe: i%4 == 0})
		got := rb.Snapshot(nil)
		if len(got) > 0 && !got[0].IsKeyframe {
			t.Fatalf("iteration %d: first packet not a keyframe", i)
		}
	}
}

func TestGroupedMinimumSnapshotStartsAtKeyframe(t *testing.T) {
	rb := NewGrouped(100000)
	for i := 0; i < 9; i++ {
		rb.Insert(Packet{Duration: 100, IsKeyframe: i%3 == 0})
	}
	min := int64(150)
	got := rb.Snapshot(&min)
	if len(got) == 0 {
		t.Fatal("expected non-empty snapshot")
	}
	if !got[0].IsKeyframe {
		t.Fatal("snapshot must start at a group boundary")
	}
}

func TestEmptySnapshot(t *testing.T) {
	if got := NewFlat(100).Snapshot(nil); got != nil {
		t.Fatalf("expected nil/empty, got %v", got)
	}
	if got := NewGrouped(100).Snapshot(nil); got != nil {
		t.Fatalf("expected nil/empty, got %v", got)
	}
}
