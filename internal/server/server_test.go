package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"maincontrol/internal/config"
	"maincontrol/internal/db"
	"maincontrol/internal/domain"
	"maincontrol/internal/engine"
	"maincontrol/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	// Monday 2 June 2025.
	e.Now = func() time.Time { return time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createOrder(t *testing.T, srv *testServer, body map[string]any) domain.WorkOrder {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders", body, map[string]string{"X-Actor-Id": "planner"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	var wo domain.WorkOrder
	if err := json.Unmarshal(data, &wo); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}
	return wo
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestWorkOrderLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	wo := createOrder(t, srv, map[string]any{"order_number": "PED-100", "region": "Mallorca", "fabric": "Lino"})
	if wo.DueDate == nil || *wo.DueDate != "2025-06-11" {
		t.Fatalf("expected projected due date 2025-06-11, got %v", wo.DueDate)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/PED-100", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get by order number: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/work-orders/"+wo.ID, map[string]any{"status": "in_production"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to in_production: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/work-orders/"+wo.ID, map[string]any{"status": "shipped"}, nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected invalid_transition conflict, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_id="+wo.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts EventList
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts.Items) != 2 || evts.Items[1].ActorID != "planner" || evts.Items[0].ActorID != defaultActor {
		t.Fatalf("unexpected events: %+v", evts.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(data))
	}
	var st engine.StatusSummary
	_ = json.Unmarshal(data, &st)
	if st.Total != 1 || st.ByStatus[domain.StatusInProduction] != 1 {
		t.Fatalf("unexpected status summary: %+v", st)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders", map[string]any{
		"order_number": "X", "region": "Peninsula", "due_date": "tomorrow-ish",
	}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("expected bad_request, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders?status=lost", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad status filter rejection, got %d %s", res.StatusCode, string(data))
	}
}

func TestQueueEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createOrder(t, srv, map[string]any{"order_number": "A", "region": "Peninsula", "fabric": "Seda", "due_date": "2025-06-20"})
	createOrder(t, srv, map[string]any{"order_number": "B", "region": "Las Palmas de Gran Canaria", "due_date": "2025-07-30"})
	createOrder(t, srv, map[string]any{"order_number": "C", "region": "Mallorca", "fabric": "Seda", "due_date": "2025-06-20"})

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/queue", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue: %d %s", res.StatusCode, string(data))
	}
	var q QueueResponse
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if q.Count != 3 || q.Items[0].OrderNumber != "B" || q.Items[0].PriorityLevel != domain.PriorityWarning {
		t.Fatalf("unexpected queue head: %+v", q.Items)
	}
	if q.Items[1].PriorityScore != 5160 || q.Items[1].Badge == nil {
		t.Fatalf("unexpected grouped row: %+v", q.Items[1])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/queue?region=Mallorca&limit=5", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered queue: %d %s", res.StatusCode, string(data))
	}
	q = QueueResponse{}
	_ = json.Unmarshal(data, &q)
	if q.Count != 1 || !q.Items[0].IsGroupedMaterial {
		t.Fatalf("expected grouped Mallorca order only: %+v", q.Items)
	}
}

func TestSLAAndCalendarEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sla/regions/Tenerife", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("region: %d %s", res.StatusCode, string(data))
	}
	var detail RegionDetail
	_ = json.Unmarshal(data, &detail)
	if detail.Budget.TotalDays != 20 || detail.UrgentThreshold != 12 || !detail.CanaryRegion {
		t.Fatalf("unexpected region detail: %+v", detail)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/calendar/schedule?region=Peninsula&start=2025-06-02", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", res.StatusCode, string(data))
	}
	var sched ScheduleResponse
	_ = json.Unmarshal(data, &sched)
	if sched.ReceptionEnd != "2025-06-04" || sched.ProductionEnd != "2025-06-11" || sched.DeliveryDate != "2025-06-16" {
		t.Fatalf("unexpected schedule: %+v", sched)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/calendar/workdays?start=2025-06-09&end=2025-06-02", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("workdays: %d %s", res.StatusCode, string(data))
	}
	var wd WorkdaysResponse
	_ = json.Unmarshal(data, &wd)
	if wd.Workdays != -5 {
		t.Fatalf("expected -5 workdays, got %d", wd.Workdays)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/calendar/workdays?start=soon&end=2025-06-02", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs[i] = fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Responses map[string]any `json:"responses"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	queue, ok := doc.Paths["/v0/queue"]["get"]
	if !ok {
		t.Fatalf("queue operation missing from %v", doc.Paths)
	}
	if _, ok := queue.Responses["default"]; !ok {
		t.Fatalf("default error response missing: %v", queue.Responses)
	}
}
