package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/epcced/digs/node"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRegistry(t *testing.T) *node.Registry {
	t.Helper()
	reg := node.NewRegistry(t.TempDir())
	n := node.Node{
		Name:        "se01",
		Site:        "siteA",
		Path:        "/grid",
		Type:        node.TypeGlobus,
		FreeSpaceKB: 1000,
		Disks:       []node.Disk{{Index: 0, QuotaKB: 5000}},
	}
	if err := reg.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.SetStatus(node.StatusRetiring, "se01", true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	return reg
}

func TestHealthz(t *testing.T) {
	s := NewServer(testRegistry(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusCounts(t *testing.T) {
	s := NewServer(testRegistry(t))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["total_nodes"] != 1 || body["live_nodes"] != 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestNodesListAndGet(t *testing.T) {
	s := NewServer(testRegistry(t))

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var views []nodeStatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Unmarshal list: %v", err)
	}
	if len(views) != 1 || views[0].Name != "se01" {
		t.Fatalf("unexpected list: %+v", views)
	}

	req = httptest.NewRequest(http.MethodGet, "/nodes/se01", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view nodeStatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !view.Retiring || view.Site != "siteA" {
		t.Fatalf("unexpected view: %+v", view)
	}

	req = httptest.NewRequest(http.MethodGet, "/nodes/missing", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing node, got %d", rec.Code)
	}
}
