package transvec

import (
	"sync"
	"testing"
)

func setupBenchVector(b *testing.B, n int) *TransactionalVector {
	b.Helper()
	tv, err := New(n, nil)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		d := NewDescriptor([]Operation{{Type: OpPushBack, Val: Value(i)}}, false)
		tv.ExecuteTransaction(d)
		if d.Status() != StatusCommitted {
			b.Fatalf("pre-insert pushBack %d failed: %v", i, d.Err())
		}
	}
	return tv
}

// BenchmarkPredicateScan mirrors main.cpp's predicateSearch/predicateFind: a
// fixed vector is pre-populated, then each of b.N iterations starts 8
// goroutines that each run a read-only transaction over a disjoint slice of
// indices and count values divisible by 3. It exercises the §4.6
// conflict-free read path under concurrent readers, not a new operation.
func BenchmarkPredicateScan(b *testing.B) {
	const size = 8192
	const threads = 8
	tv := setupBenchVector(b, size)
	defer tv.Close()

	perThread := size / threads

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var matched uint64
		var mu sync.Mutex
		var wg sync.WaitGroup
		for t := 0; t < threads; t++ {
			t := t
			wg.Add(1)
			go func() {
				defer wg.Done()
				ops := make([]Operation, perThread)
				for j := range ops {
					ops[j] = Operation{Type: OpRead, Index: uint64(t*perThread + j)}
				}
				d := NewDescriptor(ops, true)
				tv.ExecuteTransaction(d)
				if d.Status() != StatusCommitted {
					b.Error(d.Err())
					return
				}
				var local uint64
				for j := range ops {
					v, err := tv.GetResult(d, j)
					if err != nil {
						b.Error(err)
						return
					}
					if v != Unset && v%3 == 0 {
						local++
					}
				}
				mu.Lock()
				matched += local
				mu.Unlock()
			}()
		}
		wg.Wait()
		_ = matched
	}
}

func BenchmarkPushBackSeq1000(b *testing.B) {
	for i := 0; i < b.N; i++ {
		tv, err := New(0, nil)
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < 1000; j++ {
			d := NewDescriptor([]Operation{{Type: OpPushBack, Val: Value(j)}}, false)
			tv.ExecuteTransaction(d)
		}
		tv.Close()
	}
}

func BenchmarkPushBackParallel10x1000(b *testing.B) {
	for i := 0; i < b.N; i++ {
		tv, err := New(0, nil)
		if err != nil {
			b.Fatal(err)
		}
		var wg sync.WaitGroup
		for g := 0; g < 10; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 1000; j++ {
					d := NewDescriptor([]Operation{{Type: OpPushBack, Val: Value(j)}}, false)
					tv.ExecuteTransaction(d)
				}
			}()
		}
		wg.Wait()
		tv.Close()
	}
}
