package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voltworks/aftercare/pkg/catalog"
	"github.com/voltworks/aftercare/pkg/oracle"
	"github.com/voltworks/aftercare/pkg/session"
)

// stubOracle is a canned oracle.Client.
type stubOracle struct {
	verdict *oracle.Verdict
	err     error
	calls   int
}

func (s *stubOracle) Query(_ context.Context, _, _, _ string) (*oracle.Verdict, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.verdict, nil
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		APIVersion: catalog.APIVersionSOP,
		Meta:       catalog.Meta{Name: "测试流程"},
		Steps: []catalog.Step{
			{ID: "confirm_voltage", Prompt: "第一步：请确认电池电压"},
			{
				ID:     "check_compatibility",
				Prompt: "第二步：核对控制器与车型兼容性",
				Tool:   &catalog.ToolSpec{Name: catalog.ToolNameCompatibility},
				OnSuccess: &catalog.SuccessSpec{Next: "check_wiring"},
				OnFail:    &catalog.FailSpec{Message: "控制器不匹配，请更换", Alternative: "Lingbo-72182"},
			},
			{ID: "check_wiring", Prompt: "第三步：检查接线"},
			{ID: "motor_learning", Prompt: "第四步：执行电机自学习"},
			{ID: "protocol_check", Prompt: "第五步：确认协议设置"},
		},
	}
}

// readyState returns a session whose info phase is done and whose last
// logged message belongs to the user, i.e. an answer turn.
func readyState(id string) *session.State {
	st := session.New(id)
	st.InfoComplete = true
	st.CustomerInfo["vehicle_model"] = "九号 E100"
	st.CustomerInfo["controller_model"] = "Lingbo-72182"
	st.Append(session.RoleUser, "好的")
	return st
}

func TestStepEntryShowsPromptAndHoldsCursor(t *testing.T) {
	e := New(testCatalog(), &stubOracle{}, nil, 0)
	st := session.New("s")
	st.Append(session.RoleAssistant, "信息收集完整，开始为您排查...")

	reply := e.Step(context.Background(), st)
	if reply != "第一步：请确认电池电压" {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 0 {
		t.Errorf("cursor = %d, want 0 (entry holds cursor)", st.Cursor)
	}
	if st.LastRole() != session.RoleAssistant {
		t.Error("reply should be logged")
	}
}

func TestStepEmptyLogIsEntry(t *testing.T) {
	e := New(testCatalog(), &stubOracle{}, nil, 0)
	st := session.New("s")

	reply := e.Step(context.Background(), st)
	if reply != "第一步：请确认电池电压" {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 0 {
		t.Errorf("cursor = %d, want 0", st.Cursor)
	}
}

func TestStepAnswerAdvancesToPlainStep(t *testing.T) {
	cat := testCatalog()
	cat.Steps[1].Tool = nil // make step 1 a plain prompt step
	e := New(cat, &stubOracle{}, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if reply != "第二步：核对控制器与车型兼容性" {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", st.Cursor)
	}
	if st.Result.Terminal() {
		t.Errorf("result = %q, want unset", st.Result)
	}
}

func TestStepAnswerAtLastStepCompletes(t *testing.T) {
	e := New(testCatalog(), &stubOracle{}, nil, 0)
	st := readyState("s")
	st.Cursor = 4

	reply := e.Step(context.Background(), st)
	if reply != "诊断步骤已全部完成，感谢您的配合！" {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 5 {
		t.Errorf("cursor = %d, want 5", st.Cursor)
	}
	if st.Result != session.ResultCompleted {
		t.Errorf("result = %q, want completed", st.Result)
	}
}

func TestStepPastEndIsIdempotent(t *testing.T) {
	e := New(testCatalog(), &stubOracle{}, nil, 0)
	st := readyState("s")
	st.Cursor = 5

	for i := 0; i < 3; i++ {
		reply := e.Step(context.Background(), st)
		if reply != "标准诊断流程已结束。" {
			t.Errorf("turn %d reply = %q", i, reply)
		}
		if st.Cursor != 5 {
			t.Errorf("turn %d cursor = %d, want 5", i, st.Cursor)
		}
	}
	if st.Result != session.ResultCompleted {
		t.Errorf("result = %q, want completed", st.Result)
	}
}

// A promptless step reached on entry holds the cursor; reached as the
// successor of an answer it keeps the committed advance. Both mark the flow
// as a configuration error.
func TestStepMissingPromptEntryHoldsCursor(t *testing.T) {
	cat := testCatalog()
	cat.Steps[0].Prompt = ""
	e := New(cat, &stubOracle{}, nil, 0)
	st := session.New("s")

	reply := e.Step(context.Background(), st)
	if !strings.Contains(reply, "配置错误") || !strings.Contains(reply, "confirm_voltage") {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 0 {
		t.Errorf("cursor = %d, want 0", st.Cursor)
	}
	if st.Result != session.ResultError {
		t.Errorf("result = %q, want error", st.Result)
	}
}

func TestStepMissingPromptAfterAnswerAdvances(t *testing.T) {
	cat := testCatalog()
	cat.Steps[1].Prompt = ""
	e := New(cat, &stubOracle{}, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if !strings.Contains(reply, "配置错误") || !strings.Contains(reply, "check_compatibility") {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1 (answer path commits the advance)", st.Cursor)
	}
	if st.Result != session.ResultError {
		t.Errorf("result = %q, want error", st.Result)
	}
}

func TestCompatibleFollowsSuccessTarget(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{
		Compatible: oracle.Compatible,
		Confidence: 0.95,
		Reason:     "完全匹配",
	}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if stub.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", stub.calls)
	}
	// Composed reply: the tool step's prompt, the verdict, the target prompt.
	for _, part := range []string{"第二步", "✅ 核对结果：完全匹配", "第三步：检查接线"} {
		if !strings.Contains(reply, part) {
			t.Errorf("reply missing %q:\n%s", part, reply)
		}
	}
	if st.Cursor != 2 {
		t.Errorf("cursor = %d, want 2 (on_success target)", st.Cursor)
	}
	if st.LastVerdict == nil || st.LastVerdict.Compatible != oracle.Compatible {
		t.Errorf("last verdict = %+v", st.LastVerdict)
	}
	if st.Result.Terminal() {
		t.Errorf("result = %q, want unset", st.Result)
	}
}

func TestCompatibleDanglingTargetFallsBackToPositional(t *testing.T) {
	cat := testCatalog()
	cat.Steps[1].OnSuccess = &catalog.SuccessSpec{Next: "no_such_step"}
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Compatible, Reason: "匹配"}}
	e := New(cat, stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if st.Cursor != 2 {
		t.Errorf("cursor = %d, want 2 (positional successor of the tool step)", st.Cursor)
	}
	if !strings.Contains(reply, "第三步：检查接线") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCompatibleTargetPastEndCompletes(t *testing.T) {
	cat := testCatalog()
	cat.Steps = cat.Steps[:2] // tool step is last; success resolves past the end
	cat.Steps[1].OnSuccess = nil
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Compatible, Reason: "匹配"}}
	e := New(cat, stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	for _, part := range []string{"✅ 核对结果：匹配", "诊断步骤已全部完成"} {
		if !strings.Contains(reply, part) {
			t.Errorf("reply missing %q:\n%s", part, reply)
		}
	}
	if st.Result != session.ResultCompleted {
		t.Errorf("result = %q, want completed", st.Result)
	}
}

func TestIncompatibleFailsWithAlternative(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{
		Compatible:  oracle.Incompatible,
		Confidence:  0.9,
		Reason:      "电压不符",
		Alternative: "Lingbo-72199",
	}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if !strings.Contains(reply, "控制器不匹配，请更换") {
		t.Errorf("reply should use the configured failure message: %q", reply)
	}
	// The verdict's suggestion wins over the catalog's.
	if !strings.Contains(reply, "💡 推荐使用：Lingbo-72199") {
		t.Errorf("reply = %q", reply)
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", st.Cursor)
	}
	if st.Result != session.ResultFailed {
		t.Errorf("result = %q, want failed", st.Result)
	}
}

func TestIncompatibleFallsBackToCatalogAlternative(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Incompatible}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if !strings.Contains(reply, "💡 推荐使用：Lingbo-72182") {
		t.Errorf("reply = %q", reply)
	}
}

func TestIncompatibleDefaultMessage(t *testing.T) {
	cat := testCatalog()
	cat.Steps[1].OnFail = nil
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Incompatible}}
	e := New(cat, stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if !strings.Contains(reply, "控制器与车型不匹配") {
		t.Errorf("reply = %q", reply)
	}
	if strings.Contains(reply, "推荐使用") {
		t.Errorf("no alternative anywhere, reply = %q", reply)
	}
}

func TestUnknownVerdictAsksForConfirmation(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{
		Compatible: oracle.Unknown,
		Confidence: 0.5,
		Reason:     "未找到兼容性记录",
	}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	for _, part := range []string{"第二步", "⚠️ 未找到兼容性记录", "请确认是否继续排查？"} {
		if !strings.Contains(reply, part) {
			t.Errorf("reply missing %q:\n%s", part, reply)
		}
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", st.Cursor)
	}
	if st.Result.Terminal() {
		t.Errorf("result = %q, want unset (unknown is not terminal)", st.Result)
	}
}

func TestOracleErrorDegradesToManualCheck(t *testing.T) {
	stub := &stubOracle{err: errors.New("connection refused")}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	for _, part := range []string{"第二步", "⚠️ 自动核对失败，将为您人工核对"} {
		if !strings.Contains(reply, part) {
			t.Errorf("reply missing %q:\n%s", part, reply)
		}
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1 (degraded turn still advances)", st.Cursor)
	}
	if st.Result.Terminal() {
		t.Errorf("result = %q, want unset", st.Result)
	}
	if st.LastVerdict != nil {
		t.Error("degraded turn should not record a verdict")
	}
}

// A tool name outside the known set should never survive catalog validation,
// but an unvalidated catalog can still carry one. The step degrades to a
// manual prompt and the flow keeps going.
func TestUnknownToolDegradesToManualCheck(t *testing.T) {
	cat := testCatalog()
	cat.Steps[1].Tool = &catalog.ToolSpec{Name: "query_battery_health"}
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Compatible}}
	e := New(cat, stub, nil, 0)
	st := readyState("s")

	reply := e.Step(context.Background(), st)
	if stub.calls != 0 {
		t.Errorf("oracle calls = %d, want 0 (unknown tool must not dispatch)", stub.calls)
	}
	for _, part := range []string{"第二步", "⚠️ 自动核对失败，将为您人工核对"} {
		if !strings.Contains(reply, part) {
			t.Errorf("reply missing %q:\n%s", part, reply)
		}
	}
	if st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", st.Cursor)
	}
	if st.Result.Terminal() {
		t.Errorf("result = %q, want unset", st.Result)
	}
	if st.LastVerdict != nil {
		t.Error("unknown tool should not record a verdict")
	}
}

func TestMissingParamsSkipsOracleCall(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Compatible}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")
	delete(st.CustomerInfo, "controller_model")

	reply := e.Step(context.Background(), st)
	if stub.calls != 0 {
		t.Errorf("oracle calls = %d, want 0", stub.calls)
	}
	if !strings.Contains(reply, "自动核对失败") {
		t.Errorf("reply = %q", reply)
	}
}

func TestResultIsSetAtMostOnce(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Incompatible}}
	e := New(testCatalog(), stub, nil, 0)
	st := readyState("s")

	e.Step(context.Background(), st)
	if st.Result != session.ResultFailed {
		t.Fatalf("result = %q, want failed", st.Result)
	}

	// Keep routing turns anyway; the failed marker must survive.
	st.Append(session.RoleUser, "继续")
	e.Step(context.Background(), st)
	st.Append(session.RoleUser, "继续")
	e.Step(context.Background(), st)
	if st.Result != session.ResultFailed {
		t.Errorf("result drifted to %q", st.Result)
	}
}

// Drive a full happy-path conversation and check the cursor never moves
// backward.
func TestCursorIsMonotonic(t *testing.T) {
	stub := &stubOracle{verdict: &oracle.Verdict{Compatible: oracle.Compatible, Reason: "匹配"}}
	e := New(testCatalog(), stub, nil, 0)
	st := session.New("s")
	st.InfoComplete = true
	st.CustomerInfo["vehicle_model"] = "九号 E100"
	st.CustomerInfo["controller_model"] = "Lingbo-72182"

	prev := 0
	for i := 0; i < 12; i++ {
		e.Step(context.Background(), st)
		if st.Cursor < prev {
			t.Fatalf("turn %d: cursor moved backward %d -> %d", i, prev, st.Cursor)
		}
		prev = st.Cursor
		if st.Result.Terminal() {
			break
		}
		st.Append(session.RoleUser, "已确认")
	}
	if st.Result != session.ResultCompleted {
		t.Errorf("result = %q, want completed", st.Result)
	}
}
