package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8000", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:8000" {
		t.Errorf("expected baseURL=http://localhost:8000, got %s", c.baseURL)
	}
	if c.apiKey != "secret123" {
		t.Errorf("expected apiKey=secret123, got %s", c.apiKey)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8000/", "secret")
	if c.baseURL != "http://localhost:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Healthcheck(); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	if err := c.Healthcheck(); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestQueryPoints_SendsFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/points/query/" {
			t.Errorf("expected path /api/points/query/, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Token sekrit" {
			t.Errorf("expected token auth header, got %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var q map[string]any
		if err := json.Unmarshal(body, &q); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if q["min_lon"] != 2.2 || q["max_lat"] != 48.9 {
			t.Errorf("unexpected bbox in request: %v", q)
		}
		if q["limit"] != float64(1000) {
			t.Errorf("expected limit 1000, got %v", q["limit"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"features": []}`))
	}))
	defer server.Close()

	c := New(server.URL, "sekrit")
	payload, err := c.QueryPoints(BboxQuery{
		MinLon: 2.2, MaxLon: 2.5, MinLat: 48.8, MaxLat: 48.9,
		OnlyValid: true, Limit: 1000,
	})
	if err != nil {
		t.Fatalf("QueryPoints failed: %v", err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded object, got %T", payload)
	}
	if _, ok := obj["features"]; !ok {
		t.Error("expected features key in decoded payload")
	}
}

func TestPointsByEntity_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/points/by_entity/" {
			t.Errorf("expected path /api/points/by_entity/, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("entity_id") != "taxi_42" {
			t.Errorf("expected entity_id=taxi_42, got %q", q.Get("entity_id"))
		}
		if q.Get("limit") != "5000" {
			t.Errorf("expected limit=5000, got %q", q.Get("limit"))
		}
		w.Write([]byte(`{"count": 0, "results": []}`))
	}))
	defer server.Close()

	c := New(server.URL, "")
	payload, err := c.PointsByEntity("taxi_42", EntityQuery{Limit: 5000})
	if err != nil {
		t.Fatalf("PointsByEntity failed: %v", err)
	}
	if _, ok := payload.(map[string]any); !ok {
		t.Fatalf("expected decoded object, got %T", payload)
	}
}

func TestDatasets_PaginatedAndBare(t *testing.T) {
	paginated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":1,"results":[{"id":"abc","name":"tdrive"}]}`))
	}))
	defer paginated.Close()

	c := New(paginated.URL, "")
	ds, err := c.Datasets()
	if err != nil {
		t.Fatalf("Datasets failed: %v", err)
	}
	if len(ds) != 1 || ds[0].ID != "abc" {
		t.Errorf("unexpected datasets: %+v", ds)
	}

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"xyz","name":"geolife"}]`))
	}))
	defer bare.Close()

	c = New(bare.URL, "")
	ds, err = c.Datasets()
	if err != nil {
		t.Fatalf("Datasets failed on bare array: %v", err)
	}
	if len(ds) != 1 || ds[0].ID != "xyz" {
		t.Errorf("unexpected datasets: %+v", ds)
	}
}

func TestQueryPoints_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if _, err := c.QueryPoints(BboxQuery{Limit: 10}); err == nil {
		t.Error("expected error for 500 response")
	}
}
