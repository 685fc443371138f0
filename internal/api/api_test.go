package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/swarm"
)

func testRouter(t *testing.T) (*gin.Engine, *swarm.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-test"
	engine, err := swarm.New(cfg, swarm.Options{})
	if err != nil {
		t.Fatalf("swarm.New: %v", err)
	}
	router, err := NewRouter(StartOpts{Engine: engine})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router, engine
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_RequiresEngine(t *testing.T) {
	if _, err := NewRouter(StartOpts{}); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

func TestSubmitTask(t *testing.T) {
	router, engine := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"description":"index the corpus","priority":"high","capabilities":["index"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["task_id"] == "" {
		t.Fatal("no task_id in response")
	}

	st := engine.QueueStatus(time.Now())
	if st.QueuedTasks != 1 {
		t.Errorf("queued tasks = %d, want 1", st.QueuedTasks)
	}
}

func TestSubmitTask_MissingDescription(t *testing.T) {
	router, _ := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/tasks", `{"priority":"high"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCancelTask(t *testing.T) {
	router, engine := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/tasks", `{"description":"doomed"}`)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	id := resp["task_id"]

	w = doJSON(t, router, http.MethodDelete, "/api/tasks/"+id+"?reason=test", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if engine.QueueStatus(time.Now()).QueuedTasks != 0 {
		t.Error("task still queued after cancel")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/tasks/no-such-task", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("cancel unknown task status = %d, want 404", w.Code)
	}
}

func TestRegisterAgentAndAssign(t *testing.T) {
	router, engine := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/agents",
		`{"id":"w1","capabilities":["index"],"max_load":2,"trust_score":0.9}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register agent status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"description":"index","capabilities":["index"]}`)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	id := resp["task_id"]

	engine.AdvanceDistribution(time.Now())

	w = doJSON(t, router, http.MethodGet, "/api/tasks/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get task status = %d", w.Code)
	}
	var got map[string]any
	json.Unmarshal(w.Body.Bytes(), &got)
	if got["assignment"] == nil {
		t.Error("response carries no assignment")
	}

	// Agent reports completion through the API.
	w = doJSON(t, router, http.MethodPost, "/api/tasks/"+id+"/complete", `{"quality":0.9}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d", w.Code)
	}
	ag, _ := engine.Fleet().Get("w1")
	if ag.CurrentLoad != 0 {
		t.Errorf("load after completion = %d, want 0", ag.CurrentLoad)
	}
}

func TestRegisterNode(t *testing.T) {
	router, engine := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/nodes",
		`{"id":"node-b","address":"10.0.0.2"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := engine.Registry().Get("node-b"); !ok {
		t.Error("node not registered")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/nodes/node-b", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d", w.Code)
	}
	if _, ok := engine.Registry().Get("node-b"); ok {
		t.Error("node still registered after removal")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/nodes/node-b", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("remove missing node status = %d, want 404", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/messages",
		`{"type":"broadcast","payload":"hello","priority":"normal"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("broadcast status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/messages",
		`{"type":"unicast","recipients":["a","b"],"payload":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unicast with two recipients status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/messages",
		`{"type":"carrier-pigeon","payload":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", w.Code)
	}
}

func TestGossipAndStatus(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/gossip",
		`{"key":"topology","data":"{}"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("gossip status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", w.Code)
	}
	var st swarm.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.NodeID != "node-test" {
		t.Errorf("node_id = %s", st.NodeID)
	}
	if len(st.GossipKeys) != 1 || st.GossipKeys[0] != "topology" {
		t.Errorf("gossip keys = %v", st.GossipKeys)
	}
}

func TestConsensusEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/consensus",
		`{"type":"config-change","value":"{\"ttl\":60}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body = %s", w.Code, w.Body.String())
	}
	// A single node is its own quorum; the proposal resolves on the local
	// vote, so a follow-up vote hits an unknown proposal.
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	w = doJSON(t, router, http.MethodPost, "/api/consensus/"+resp["proposal_id"]+"/vote",
		`{"decision":"accept"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("vote on resolved proposal status = %d, want 400", w.Code)
	}
}
