package serve

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voltworks/aftercare/pkg/catalog"
	"github.com/voltworks/aftercare/pkg/flow"
	"github.com/voltworks/aftercare/pkg/oracle"
	"github.com/voltworks/aftercare/pkg/session"
)

func newTestServer(t *testing.T) (*httptest.Server, session.Store) {
	t.Helper()
	cat, err := catalog.LoadFile("../../catalogs/sop_diagnostic.yaml")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store := session.NewMemStore()
	engine := flow.New(cat, oracle.NewTableClient(nil), nil, 0)
	srv := httptest.NewServer(New(engine, nil, store, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func chatTurn(t *testing.T, srv *httptest.Server, sessionID, message string, info map[string]any) chatResponse {
	t.Helper()
	var out chatResponse
	resp := postJSON(t, srv.URL+"/chat", chatRequest{
		Message:      message,
		SessionID:    sessionID,
		CustomerInfo: info,
	}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	return out
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/chat", chatRequest{Message: "你好"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// The full conversation: checklist, info completion, first prompt, then the
// compatibility step branching on the built-in table.
func TestChatConversationCompatiblePath(t *testing.T) {
	srv, _ := newTestServer(t)
	const sid = "conv-1"

	// Turn 1: nothing collected yet, expect the checklist.
	out := chatTurn(t, srv, sid, "你好，我想调大电流", nil)
	if out.InfoComplete {
		t.Fatal("info should not be complete yet")
	}
	if !strings.HasPrefix(out.Response, "为了精准调试") {
		t.Fatalf("expected checklist, got %q", out.Response)
	}
	if out.CurrentStep != 0 {
		t.Fatalf("current step = %d, want 0", out.CurrentStep)
	}

	// Turn 2: supply everything. The reply is the collection transition plus
	// the first SOP prompt, and the cursor holds at 0 (entry, not answer).
	out = chatTurn(t, srv, sid, "资料补全了", map[string]any{
		"controller_model": "Lingbo-72182",
		"vehicle_model":    "九号 E100",
		"motor_power":      1000.0,
		"battery_type":     "lead_acid",
	})
	if !out.InfoComplete {
		t.Fatal("info should be complete")
	}
	if !strings.Contains(out.Response, "第一步") {
		t.Fatalf("expected the first prompt, got %q", out.Response)
	}
	if out.CurrentStep != 0 {
		t.Fatalf("current step = %d, want 0 (first visit holds the cursor)", out.CurrentStep)
	}

	// Turn 3: answer step one. The successor is the compatibility step; the
	// table says this pair matches, so the reply composes the tool prompt,
	// the verdict and the on_success target's prompt.
	out = chatTurn(t, srv, sid, "72V，实测 74V", nil)
	for _, part := range []string{"第二步", "✅ 核对结果", "第三步"} {
		if !strings.Contains(out.Response, part) {
			t.Fatalf("reply missing %q:\n%s", part, out.Response)
		}
	}
	if out.CurrentStep != 2 {
		t.Fatalf("current step = %d, want 2", out.CurrentStep)
	}
}

func TestChatConversationIncompatiblePath(t *testing.T) {
	srv, store := newTestServer(t)
	const sid = "conv-2"

	chatTurn(t, srv, sid, "你好", map[string]any{
		"controller_model": "Lingbo-72180",
		"vehicle_model":    "九号 E100",
		"motor_power":      1000.0,
		"battery_type":     "lead_acid",
	})
	out := chatTurn(t, srv, sid, "电压确认过了", nil)

	if !strings.Contains(out.Response, "不匹配") {
		t.Fatalf("expected failure message, got %q", out.Response)
	}
	if !strings.Contains(out.Response, "💡 推荐使用：Lingbo-72182") {
		t.Fatalf("expected the table's alternative, got %q", out.Response)
	}

	st, err := store.Load(sid)
	if err != nil {
		t.Fatal(err)
	}
	if st.Result != session.ResultFailed {
		t.Errorf("result = %q, want failed", st.Result)
	}
	if st.LastVerdict == nil || st.LastVerdict.Compatible != oracle.Incompatible {
		t.Errorf("last verdict = %+v", st.LastVerdict)
	}
}

// A terminal session replays its last reply instead of running more steps.
func TestChatTerminalSessionReEmitsLastReply(t *testing.T) {
	srv, _ := newTestServer(t)
	const sid = "conv-3"

	chatTurn(t, srv, sid, "你好", map[string]any{
		"controller_model": "Lingbo-72180",
		"vehicle_model":    "九号 E100",
		"motor_power":      1000.0,
		"battery_type":     "lead_acid",
	})
	failed := chatTurn(t, srv, sid, "电压确认过了", nil)
	again := chatTurn(t, srv, sid, "那现在怎么办？", nil)

	if again.Response != failed.Response {
		t.Errorf("terminal session changed its answer:\nfirst: %q\nagain: %q", failed.Response, again.Response)
	}
}

func TestChatPersistsAcrossTurns(t *testing.T) {
	srv, store := newTestServer(t)
	const sid = "conv-4"

	chatTurn(t, srv, sid, "你好", nil)
	chatTurn(t, srv, sid, "补充一下", map[string]any{"vehicle_model": "九号 E100"})

	st, err := store.Load(sid)
	if err != nil {
		t.Fatal(err)
	}
	if st.CustomerInfo["vehicle_model"] != "九号 E100" {
		t.Errorf("customer info not persisted: %+v", st.CustomerInfo)
	}
	if len(st.Messages) < 4 {
		t.Errorf("message log = %d entries, want user+assistant per turn", len(st.Messages))
	}
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	chatTurn(t, srv, "conv-5", "你好", nil)

	resp, err := http.Get(srv.URL + "/sessions/conv-5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st session.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if st.ID != "conv-5" || len(st.Messages) == 0 {
		t.Errorf("session = %+v", st)
	}
}

func TestReportFromExplicitSpecs(t *testing.T) {
	srv, _ := newTestServer(t)

	var result struct {
		SafeBusCurrent float64 `json:"safe_bus_current"`
		Bottleneck     string  `json:"bottleneck"`
	}
	resp := postJSON(t, srv.URL+"/report", reportRequest{Specs: map[string]any{
		"battery_type":           "lead_acid",
		"voltage":                72.0,
		"capacity_ah":            30.0,
		"motor_power_rated":      1000.0,
		"wire_gauge":             6.0,
		"breaker_rating":         80.0,
		"controller_max_current": 150.0,
	}}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if result.SafeBusCurrent != 48.6 || result.Bottleneck != "motor" {
		t.Errorf("report = %+v", result)
	}
}

func TestReportFromSessionInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	const sid = "conv-6"

	chatTurn(t, srv, sid, "你好", map[string]any{
		"battery_type":           "lead_acid",
		"battery_voltage":        72.0,
		"capacity_ah":            30.0,
		"motor_power":            1000.0,
		"wire_gauge":             6.0,
		"breaker_rating":         80.0,
		"controller_max_current": 150.0,
	})

	var result struct {
		SafeBusCurrent float64 `json:"safe_bus_current"`
	}
	resp := postJSON(t, srv.URL+"/report", reportRequest{SessionID: sid}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if result.SafeBusCurrent != 48.6 {
		t.Errorf("safe bus current = %v, want 48.6", result.SafeBusCurrent)
	}
}

func TestReportRejectsIncompleteSpecs(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/report", reportRequest{Specs: map[string]any{
		"battery_type": "lithium",
	}}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestReportRequiresSpecsOrSession(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/report", reportRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
