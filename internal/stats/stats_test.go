package stats

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordTick(t *testing.T) {
	s := New()
	s.RecordTick(TickerCompactionKeyDropRangeDel, 3)
	s.RecordTick(TickerCompactionKeyDropRangeDel, 2)
	if got := s.GetTickerCount(TickerCompactionKeyDropRangeDel); got != 5 {
		t.Errorf("ticker = %d, want 5", got)
	}
	if got := s.GetTickerCount(TickerCompactionRangeDelDropObsolete); got != 0 {
		t.Errorf("untouched ticker = %d, want 0", got)
	}

	s.Reset()
	if got := s.GetTickerCount(TickerCompactionKeyDropRangeDel); got != 0 {
		t.Errorf("ticker after Reset = %d, want 0", got)
	}
}

func TestNilStatistics(t *testing.T) {
	var s *Statistics
	s.RecordTick(TickerNumberKeysWritten, 1) // must not panic
	if got := s.GetTickerCount(TickerNumberKeysWritten); got != 0 {
		t.Errorf("nil stats ticker = %d, want 0", got)
	}
}

func TestConcurrentTicks(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.RecordTick(TickerNumberKeysWritten, 1)
			}
		}()
	}
	wg.Wait()
	if got := s.GetTickerCount(TickerNumberKeysWritten); got != 8000 {
		t.Errorf("ticker = %d, want 8000", got)
	}
}

func TestPrometheusCollector(t *testing.T) {
	s := New()
	s.RecordTick(TickerCompactionRangeDelDropObsolete, 7)

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(s)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "rangekv_compaction_range_del_drop_obsolete_total" {
			found = mf
		}
	}
	if found == nil {
		t.Fatalf("metric family not found; got %d families", len(families))
	}
	if v := found.GetMetric()[0].GetCounter().GetValue(); v != 7 {
		t.Errorf("counter = %v, want 7", v)
	}
}
