package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterAndUnregister(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewPedanticRegistry()

	m := New("orders")
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}

	m.RecordsWritten.Add(3)
	m.ObserveSync("full", time.Now())

	if got := testutil.ToFloat64(m.RecordsWritten); got != 3 {
		t.Errorf("Expected 3 records written, got %v", got)
	}
	if got := testutil.ToFloat64(m.Syncs.WithLabelValues("full")); got != 1 {
		t.Errorf("Expected one full sync, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg, "persistq_records_written_total", "persistq_syncs_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected 2 series, got %d", count)
	}

	dup := New("orders")
	if err := dup.Register(reg); err == nil {
		t.Fatal("Expected registering the same queue twice to fail")
	}

	other := New("payments")
	if err := other.Register(reg); err != nil {
		t.Fatalf("Expected a second queue to register alongside the first, got %v", err)
	}

	m.Unregister()
	if err := dup.Register(reg); err != nil {
		t.Errorf("Expected re-registration after unregister to succeed, got %v", err)
	}
}

func TestRegisterNil(t *testing.T) {
	t.Parallel()

	m := New("q")
	if err := m.Register(nil); err != nil {
		t.Fatal(err)
	}
	m.Unregister()
}
