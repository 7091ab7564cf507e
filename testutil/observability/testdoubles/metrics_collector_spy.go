package testdoubles

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy captures metrics calls for testing.
// It implements eventstore.MetricsCollector and eventstore.ContextualMetricsCollector.
type MetricsCollectorSpy struct {
	mu              sync.Mutex
	durationRecords []SpyDurationRecord
	counterRecords  []SpyCounterRecord
	valueRecords    []SpyValueRecord
}

// SpyDurationRecord represents a recorded duration metric call.
type SpyDurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// SpyCounterRecord represents a recorded counter increment call.
type SpyCounterRecord struct {
	Metric string
	Labels map[string]string
}

// SpyValueRecord represents a recorded value metric call.
type SpyValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = append(s.durationRecords, SpyDurationRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterRecords = append(s.counterRecords, SpyCounterRecord{Metric: metric, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.valueRecords = append(s.valueRecords, SpyValueRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	s.RecordDuration(metric, duration, labels)
}

func (s *MetricsCollectorSpy) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	s.IncrementCounter(metric, labels)
}

func (s *MetricsCollectorSpy) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	s.RecordValue(metric, value, labels)
}

// DurationRecordsFor returns all duration recordings of the given metric.
func (s *MetricsCollectorSpy) DurationRecordsFor(metric string) []SpyDurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []SpyDurationRecord
	for _, record := range s.durationRecords {
		if record.Metric == metric {
			found = append(found, record)
		}
	}

	return found
}

// CounterRecordsFor returns all counter increments of the given metric.
func (s *MetricsCollectorSpy) CounterRecordsFor(metric string) []SpyCounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []SpyCounterRecord
	for _, record := range s.counterRecords {
		if record.Metric == metric {
			found = append(found, record)
		}
	}

	return found
}

// ValueRecordsFor returns all value recordings of the given metric.
func (s *MetricsCollectorSpy) ValueRecordsFor(metric string) []SpyValueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []SpyValueRecord
	for _, record := range s.valueRecords {
		if record.Metric == metric {
			found = append(found, record)
		}
	}

	return found
}

// Reset clears all captured records.
func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = nil
	s.counterRecords = nil
	s.valueRecords = nil
}
