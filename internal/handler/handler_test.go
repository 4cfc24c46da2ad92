package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"portscope/internal/adapter"
	"portscope/internal/domain"
)

type fakeCollector struct {
	last     *domain.CollectionResult
	det      *adapter.Detection
	collects int
}

func (f *fakeCollector) CollectAll(context.Context) *domain.CollectionResult {
	f.collects++
	f.last = testResult()
	return f.last
}

func (f *fakeCollector) Last() *domain.CollectionResult { return f.last }
func (f *fakeCollector) Detection() *adapter.Detection  { return f.det }

func testResult() *domain.CollectionResult {
	res := domain.NewCollectionResult("docker", "Docker")
	res.Ports = []domain.PortRecord{
		{Source: domain.SourceContainer, Owner: "web", Protocol: domain.ProtocolTCP, HostIP: "0.0.0.0", HostPort: 8080},
		{Source: domain.SourceOS, Owner: "sshd", Protocol: domain.ProtocolTCP, HostIP: "0.0.0.0", HostPort: 22},
		{Source: domain.SourceContainer, Owner: "wireguard", Protocol: domain.ProtocolUDP, HostIP: "0.0.0.0", HostPort: 51820},
	}
	return res
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestListPorts(t *testing.T) {
	tests := []struct {
		query string
		want  []int
	}{
		{"", []int{8080, 22, 51820}},
		{"?protocol=udp", []int{51820}},
		{"?source=container", []int{8080, 51820}},
		{"?owner=SSHD", []int{22}},
		{"?protocol=udp&source=os", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h := New(&fakeCollector{last: testResult()})
			rec := serve(h, "GET", "/api/ports"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var ports []domain.PortRecord
			if err := json.NewDecoder(rec.Body).Decode(&ports); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if len(ports) != len(tt.want) {
				t.Fatalf("ports = %d, want %d", len(ports), len(tt.want))
			}
			for i, p := range ports {
				if p.HostPort != tt.want[i] {
					t.Errorf("ports[%d] = %d, want %d", i, p.HostPort, tt.want[i])
				}
			}
		})
	}
}

func TestGetResultCollectsWhenEmpty(t *testing.T) {
	c := &fakeCollector{}
	rec := serve(New(c), "GET", "/api/result")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c.collects != 1 {
		t.Errorf("collects = %d, want 1", c.collects)
	}

	serve(New(c), "GET", "/api/result")
	if c.collects != 1 {
		t.Errorf("collects after cached read = %d, want 1", c.collects)
	}
}

func TestCollect(t *testing.T) {
	c := &fakeCollector{last: testResult()}
	rec := serve(New(c), "POST", "/api/collect")
	if rec.Code != http.StatusOK || c.collects != 1 {
		t.Errorf("status = %d collects = %d, want 200 and 1", rec.Code, c.collects)
	}
	if rec := serve(New(c), "GET", "/api/collect"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/collect status = %d, want 405", rec.Code)
	}
}

func TestGetDetection(t *testing.T) {
	rec := serve(New(&fakeCollector{}), "GET", "/api/detection")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	det := &adapter.Detection{Selected: "docker"}
	rec = serve(New(&fakeCollector{det: det}), "GET", "/api/detection")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"selected":"docker"`) {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestExport(t *testing.T) {
	h := New(&fakeCollector{last: testResult()})

	rec := serve(h, "GET", "/api/export/table")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %s, want text/plain", ct)
	}
	if !strings.Contains(rec.Body.String(), "wireguard") {
		t.Errorf("table body missing wireguard:\n%s", rec.Body.String())
	}

	rec = serve(h, "GET", "/api/export/xml")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", rec.Code)
	}
}
