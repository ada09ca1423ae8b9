package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWebhookPostsPrefixedContent(t *testing.T) {
	received := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhook(server.URL, nil, WithHTTPClient(server.Client()))
	defer sink.Close()

	sink.Report("provider exploded")

	select {
	case p := <-received:
		if p.Content != "Error: provider exploded" {
			t.Errorf("Unexpected content %q", p.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for webhook")
	}
}

func TestWebhookReportNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		got = append(got, p.Content)
		mu.Unlock()
	}))
	defer server.Close()

	sink := NewWebhook(server.URL, nil, WithHTTPClient(server.Client()), WithQueueSize(2))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			sink.Report(strings.Repeat("x", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full queue")
	}
	if n := len(sink.queue); n > 2 {
		t.Errorf("Expected queue bounded at 2, got %d", n)
	}
	close(release)
	_ = sink.Close()
}

func TestReportAfterCloseIsSafe(t *testing.T) {
	sink := NewWebhook("http://127.0.0.1:0", nil)
	_ = sink.Close()
	sink.Report("late")
}

func TestNewWithoutURLIsNop(t *testing.T) {
	if _, ok := New("", nil).(Nop); !ok {
		t.Error("Expected Nop sink without a webhook URL")
	}
}

func TestCountingSink(t *testing.T) {
	m := NewMetrics()
	sink := Counted(Nop{}, m)

	sink.Report("a")
	sink.Report("b")

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var got float64
	for _, mf := range families {
		if mf.GetName() == "telemetry_error_reports_total" {
			got = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if got != 2 {
		t.Errorf("Expected 2 reports counted, got %v", got)
	}
}
