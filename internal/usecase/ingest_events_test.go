package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/geofence-relay/internal/adapter/metrics"
	"github.com/V4T54L/geofence-relay/internal/domain"
)

type recordingProcessor struct {
	mu      sync.Mutex
	batches []domain.NotificationBatch
	block   chan struct{}
	err     error
	ctxErr  error
}

func (p *recordingProcessor) Process(ctx context.Context, batch domain.NotificationBatch) (int, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	p.ctxErr = ctx.Err()
	return len(batch.Events), p.err
}

func (p *recordingProcessor) received() []domain.NotificationBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.NotificationBatch(nil), p.batches...)
}

func decodePayload(t *testing.T, raw string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return v
}

const validPayload = `{"notifications":[
	{"descriptor":"d1","detectedTime":"2015-05-04T18:39:33.719Z","data":{"geofenceCode":"FENCE1","crossingType":"enter"}},
	{"descriptor":"d2","detectedTime":"2015-05-04T18:40:00Z","data":{"geofenceCode":"FENCE2","crossingType":"exit"}}
]}`

func TestIngestEventsUseCase_Submit(t *testing.T) {
	t.Run("Valid Payload Is Dispatched", func(t *testing.T) {
		proc := &recordingProcessor{}
		m := metrics.NewRelayMetricsWith(prometheus.NewRegistry())
		uc := NewIngestEventsUseCase(proc, discardLogger, m)

		result := uc.Submit(context.Background(), decodePayload(t, validPayload))
		if !result.Valid {
			t.Fatalf("expected valid result, got errors %+v", result.Errors)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := uc.Wait(ctx); err != nil {
			t.Fatalf("expected dispatched batch to finish, got %v", err)
		}

		batches := proc.received()
		if len(batches) != 1 {
			t.Fatalf("expected 1 batch, got %d", len(batches))
		}
		if batches[0].ID == "" {
			t.Error("expected batch to carry an id")
		}
		if len(batches[0].Events) != 2 || batches[0].Events[1].GeofenceCode != "FENCE2" {
			t.Errorf("unexpected batch events: %+v", batches[0].Events)
		}
		if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.StatusAccepted)); got != 1 {
			t.Errorf("expected 1 accepted notification, got %v", got)
		}
	})

	t.Run("Invalid Payload Is Not Dispatched", func(t *testing.T) {
		proc := &recordingProcessor{}
		m := metrics.NewRelayMetricsWith(prometheus.NewRegistry())
		uc := NewIngestEventsUseCase(proc, discardLogger, m)

		payload := `{"notifications":[{"descriptor":"d1","detectedTime":"2015-05-04T18:39:33.719Z","data":{"geofenceCode":"F","crossingType":"loiter"}}]}`
		result := uc.Submit(context.Background(), decodePayload(t, payload))
		if result.Valid {
			t.Fatal("expected invalid result")
		}
		if len(result.Errors) != 1 {
			t.Fatalf("expected 1 validation error, got %d", len(result.Errors))
		}

		if err := uc.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
		if len(proc.received()) != 0 {
			t.Error("expected no batches to be dispatched")
		}
		if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(metrics.StatusInvalid)); got != 1 {
			t.Errorf("expected 1 invalid notification, got %v", got)
		}
	})

	t.Run("Request Cancellation Does Not Reach Pipeline", func(t *testing.T) {
		proc := &recordingProcessor{}
		uc := NewIngestEventsUseCase(proc, discardLogger, nil)

		ctx, cancel := context.WithCancel(context.Background())
		uc.Submit(ctx, decodePayload(t, validPayload))
		cancel()

		if err := uc.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
		if len(proc.received()) != 1 {
			t.Fatal("expected the batch to be processed")
		}
		if proc.ctxErr != nil {
			t.Errorf("expected pipeline context to stay live, got %v", proc.ctxErr)
		}
	})

	t.Run("Processor Error Is Absorbed", func(t *testing.T) {
		proc := &recordingProcessor{err: errors.New("boom")}
		uc := NewIngestEventsUseCase(proc, discardLogger, nil)

		if result := uc.Submit(context.Background(), decodePayload(t, validPayload)); !result.Valid {
			t.Fatal("expected valid result")
		}
		if err := uc.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	})
}

func TestIngestEventsUseCase_Wait(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	m := metrics.NewRelayMetricsWith(prometheus.NewRegistry())
	uc := NewIngestEventsUseCase(proc, discardLogger, m)

	uc.Submit(context.Background(), decodePayload(t, validPayload))

	if got := testutil.ToFloat64(m.BatchesInFlight); got != 1 {
		t.Errorf("expected 1 batch in flight, got %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := uc.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while batch is blocked, got %v", err)
	}

	close(proc.block)
	if err := uc.Wait(context.Background()); err != nil {
		t.Fatalf("expected wait to succeed once batch finishes, got %v", err)
	}
	if got := testutil.ToFloat64(m.BatchesInFlight); got != 0 {
		t.Errorf("expected no batches in flight, got %v", got)
	}
}
