package transvec

import (
	"strings"
	"testing"
)

func TestSegmentedVectorAccessDistinctCoordinates(t *testing.T) {
	v := newSegmentedVector(8)
	seen := make(map[[2]int]int)
	for i := 0; i < 4096; i++ {
		bucket, slot := v.access(i)
		key := [2]int{bucket, slot}
		if prev, ok := seen[key]; ok {
			t.Fatalf("access(%d) and access(%d) both map to (bucket=%d, slot=%d)", prev, i, bucket, slot)
		}
		seen[key] = i
		if slot < 0 || slot >= v.bucketCapacity(bucket) {
			t.Fatalf("access(%d) = (bucket=%d, slot=%d); slot out of bucket capacity %d", i, bucket, slot, v.bucketCapacity(bucket))
		}
	}
}

func TestSegmentedVectorReadBeforeReserve(t *testing.T) {
	v := newSegmentedVector(8)
	if p := v.read(1000); p != nil {
		t.Errorf("read(1000) on an unreserved vector = %+v; want nil", p)
	}
	if ok := v.tryWrite(1000, nil, &deltaPage{}); ok {
		t.Errorf("tryWrite on an unreserved segment should fail")
	}
}

func TestSegmentedVectorReserveIsMonotoneAndIdempotent(t *testing.T) {
	v := newSegmentedVector(8)
	v.reserve(100)
	v.reserve(10) // smaller reserve must not undo the larger one
	v.reserve(100)

	if v.headPtr(99) == nil {
		t.Fatalf("expected segment 99 to be reserved")
	}
}

func TestSegmentedVectorDebugString(t *testing.T) {
	v := newSegmentedVector(8)
	v.reserve(20)
	owner := NewDescriptor(nil, false)
	v.tryWrite(0, nil, newDeltaPage(owner, 16))

	s := v.debugString()
	if !strings.Contains(s, "bucket 0: capacity=8 live=1") {
		t.Errorf("debugString() = %q; want it to report bucket 0 with one live segment", s)
	}
}

func TestSegmentedVectorTryWriteRoundTrip(t *testing.T) {
	v := newSegmentedVector(8)
	v.reserve(1)

	owner := NewDescriptor(nil, false)
	page := newDeltaPage(owner, 16)
	if !v.tryWrite(0, nil, page) {
		t.Fatalf("expected first tryWrite against nil head to succeed")
	}
	if got := v.read(0); got != page {
		t.Fatalf("read(0) = %+v; want %+v", got, page)
	}
	if v.tryWrite(0, nil, page) {
		t.Fatalf("tryWrite against a stale expected head should fail")
	}
}
