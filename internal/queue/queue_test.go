package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/urbanviz/mobview/internal/model"
)

func record(entity string, offsetSec int) model.PointRecord {
	return model.PointRecord{
		EntityID:   entity,
		EntityType: "taxi",
		Time:       time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC).Add(time.Duration(offsetSec) * time.Second),
		IsValid:    true,
	}
}

func TestQueue_New(t *testing.T) {
	q := New[model.PointRecord]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_Push(t *testing.T) {
	q := New[model.PointRecord]()

	q.Push(record("taxi_1", 0))
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}

	q.Push(record("taxi_1", 1), record("taxi_2", 1))
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}
}

func TestQueue_Pop(t *testing.T) {
	q := New[model.PointRecord]()

	// Pop from empty queue returns zero value
	result := q.Pop()
	if result.EntityID != "" || !result.Time.IsZero() {
		t.Errorf("expected zero value, got %+v", result)
	}

	// Pop from non-empty queue is FIFO
	q.Push(record("taxi_1", 0), record("taxi_2", 1))
	first := q.Pop()
	if first.EntityID != "taxi_1" {
		t.Errorf("expected taxi_1, got %+v", first)
	}
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}
}

func TestQueue_Empty(t *testing.T) {
	q := New[model.PointRecord]()

	if !q.Empty() {
		t.Error("expected empty queue")
	}

	q.Push(record("taxi_1", 0))
	if q.Empty() {
		t.Error("expected non-empty queue")
	}

	q.Pop()
	if !q.Empty() {
		t.Error("expected empty queue after pop")
	}
}

func TestQueue_Len(t *testing.T) {
	q := New[model.PointRecord]()

	if q.Len() != 0 {
		t.Errorf("expected 0, got %d", q.Len())
	}

	q.Push(record("taxi_1", 0), record("taxi_1", 1), record("taxi_1", 2))
	if q.Len() != 3 {
		t.Errorf("expected 3, got %d", q.Len())
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[model.PointRecord]()
	q.Push(record("taxi_1", 0), record("taxi_2", 0), record("bus_3", 0))

	q.Clear()

	if !q.Empty() {
		t.Error("expected empty queue after clear")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[model.PointRecord]()
	q.Push(record("taxi_1", 0), record("taxi_1", 1), record("taxi_1", 2))

	result := q.GetAndEmpty()

	if len(result) != 3 {
		t.Errorf("expected 3 records, got %d", len(result))
	}
	for i, r := range result {
		if r.Time.Second() != i {
			t.Errorf("flush must preserve arrival order, got %+v at %d", r, i)
		}
	}
	if !q.Empty() {
		t.Error("expected empty queue after GetAndEmpty")
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[model.PointRecord]()
	var wg sync.WaitGroup

	// Concurrent pushes, as the write-behind recorder does per fetch
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(record("taxi_1", i))
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Errorf("expected 100 records, got %d", q.Len())
	}

	// Concurrent pops
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Pop()
		}()
	}
	wg.Wait()

	if q.Len() != 50 {
		t.Errorf("expected 50 records after pops, got %d", q.Len())
	}
}

func TestQueue_ConcurrentGetAndEmpty(t *testing.T) {
	q := New[model.PointRecord]()

	for i := 0; i < 100; i++ {
		q.Push(record("taxi_1", i))
	}

	var wg sync.WaitGroup
	results := make(chan []model.PointRecord, 10)

	// Concurrent flushes must hand each record to exactly one caller
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.GetAndEmpty()
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for r := range results {
		total += len(r)
	}
	if total != 100 {
		t.Errorf("expected total 100 records, got %d", total)
	}
}

// The queue is generic; the session exporter also queues entity IDs.

func TestQueue_StringType(t *testing.T) {
	q := New[string]()
	q.Push("taxi_1", "bus_2")

	first := q.Pop()
	if first != "taxi_1" {
		t.Errorf("expected 'taxi_1', got '%s'", first)
	}
}

func TestQueue_IntType(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3, 4, 5)

	sum := 0
	for !q.Empty() {
		sum += q.Pop()
	}
	if sum != 15 {
		t.Errorf("expected sum 15, got %d", sum)
	}
}
