package linequeue

import (
	"fmt"
	"sync"
	"testing"
)

func TestQueue_DrainAll(t *testing.T) {
	tests := []struct {
		name  string
		items []string
	}{
		{name: "empty queue", items: nil},
		{name: "single item", items: []string{"one"}},
		{name: "preserves order", items: []string{"a", "b", "c", "d"}},
		{name: "keeps empty strings", items: []string{"", "x", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			for _, item := range tt.items {
				q.Enqueue(item)
			}

			got := q.DrainAll()
			if got == nil {
				t.Fatal("expected non-nil result")
			}
			if len(got) != len(tt.items) {
				t.Fatalf("expected %d items but got %d", len(tt.items), len(got))
			}
			for i := range tt.items {
				if got[i] != tt.items[i] {
					t.Errorf("item %d: expected %q but got %q", i, tt.items[i], got[i])
				}
			}
		})
	}
}

func TestQueue_DrainIsDestructive(t *testing.T) {
	q := New()
	q.Enqueue("first")
	q.Enqueue("second")

	if got := q.DrainAll(); len(got) != 2 {
		t.Fatalf("expected 2 items on first drain but got %d", len(got))
	}
	if got := q.DrainAll(); len(got) != 0 {
		t.Errorf("expected empty second drain but got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("expected Len 0 but got %d", q.Len())
	}

	q.Enqueue("third")
	got := q.DrainAll()
	if len(got) != 1 || got[0] != "third" {
		t.Errorf("expected [third] but got %v", got)
	}
}

func TestQueue_DrainedSliceIsDetached(t *testing.T) {
	q := New()
	q.Enqueue("a")
	got := q.DrainAll()

	q.Enqueue("b")
	if got[0] != "a" || len(got) != 1 {
		t.Errorf("drained slice changed after enqueue: %v", got)
	}
}

func TestQueue_ConcurrentExactlyOnce(t *testing.T) {
	const producers = 8
	const perProducer = 500

	q := New()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	var mu sync.Mutex
	go func() {
		defer close(done)
		for {
			batch := q.DrainAll()
			mu.Lock()
			for _, item := range batch {
				seen[item]++
			}
			total := len(seen)
			mu.Unlock()
			if total == producers*perProducer {
				return
			}
		}
	}()

	wg.Wait()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for item, count := range seen {
		if count != 1 {
			t.Errorf("item %s drained %d times", item, count)
		}
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d distinct items but got %d", producers*perProducer, len(seen))
	}
}

func TestQueue_PerProducerOrder(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(fmt.Sprintf("%d:%03d", p, i))
			}
		}(p)
	}
	wg.Wait()

	last := map[byte]string{}
	for _, item := range q.DrainAll() {
		producer := item[0]
		if prev, ok := last[producer]; ok && prev >= item {
			t.Errorf("producer %c out of order: %s after %s", producer, item, prev)
		}
		last[producer] = item
	}
}
