package metrics

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServerServesMetricsAndHealth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := NewServer(ln.Addr().String(), zerolog.Nop())
	server.SetListener(ln)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = server.Stop() }()

	SessionsRecorded.WithLabelValues("day").Inc()

	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "adherence_sessions_recorded_total") {
		t.Fatal("expected adherence_sessions_recorded_total in metrics output")
	}
}
