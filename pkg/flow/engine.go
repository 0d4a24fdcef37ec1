// Package flow implements the diagnostic step controller: a deterministic
// state machine over the step catalog that decides, per user turn, which
// prompt to show next, when to consult the compatibility oracle, and when
// the flow terminates.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voltworks/aftercare/pkg/catalog"
	"github.com/voltworks/aftercare/pkg/oracle"
	"github.com/voltworks/aftercare/pkg/session"
)

// DefaultOracleTimeout bounds one oracle call made on behalf of a turn.
const DefaultOracleTimeout = 8 * time.Second

// errMissingParams marks a compatibility query that cannot be made because
// the collected info lacks the vehicle or controller model. Treated exactly
// like an oracle transport failure: degrade, keep going.
var errMissingParams = errors.New("missing vehicle_model or controller_model")

// Canned reply fragments. zh-CN like every other customer-facing string.
const (
	msgFlowClosed     = "标准诊断流程已结束。"
	msgFlowDone       = "诊断步骤已全部完成，感谢您的配合！"
	msgDegraded       = "⚠️ 自动核对失败，将为您人工核对"
	msgDefaultFail    = "控制器与车型不匹配"
	msgConfirmAsk     = "请确认是否继续排查？"
	msgUnknownDefault = "无法确定兼容性"
)

// Engine walks a session through the step catalog. The oracle client is a
// constructor-injected dependency so tests can substitute doubles and
// deployments can pick the table or networked backend.
type Engine struct {
	catalog *catalog.Catalog
	oracle  oracle.Client
	logger  *zap.Logger
	timeout time.Duration
}

// New builds an engine. A nil logger disables logging; a non-positive
// timeout uses DefaultOracleTimeout.
func New(cat *catalog.Catalog, client oracle.Client, logger *zap.Logger, timeout time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &Engine{
		catalog: cat,
		oracle:  client,
		logger:  logger.Named("flow"),
		timeout: timeout,
	}
}

// Step runs one turn of the state machine against st, appends the assistant
// reply to the message log and returns it. The caller must have already
// appended the incoming user message (if any) to st.
//
// Cursor only ever moves forward; the diagnostic result is set at most once.
// Once the result is terminal the caller is expected to stop routing turns
// here — a new flow needs a new session.
func (e *Engine) Step(ctx context.Context, st *session.State) string {
	reply := e.step(ctx, st)
	st.Append(session.RoleAssistant, reply)
	return reply
}

func (e *Engine) step(ctx context.Context, st *session.State) string {
	n := e.catalog.Len()
	log := e.logger.With(zap.String("session", st.ID), zap.Int("cursor", st.Cursor))

	// Past the last step: idempotent terminal behavior.
	if st.Cursor >= n {
		log.Info("flow already completed")
		setResult(st, session.ResultCompleted)
		return msgFlowClosed
	}

	step := &e.catalog.Steps[st.Cursor]

	// A step without a prompt is a catalog defect. The cursor stays put:
	// the defect has to be fixed before the flow can continue.
	if step.Prompt == "" {
		log.Error("step has no prompt", zap.String("step", step.ID))
		setResult(st, session.ResultError)
		return configErrorMsg(step, st.Cursor)
	}

	// First visit: the last logged message is ours (or the log is empty),
	// so the prompt has not been shown yet. Show it, hold the cursor.
	if st.LastRole() != session.RoleUser {
		log.Info("entering step", zap.String("step", step.ID))
		return step.Prompt
	}

	// The user answered. Any reply satisfies the current step — no semantic
	// validation is attempted — so commit to the successor.
	next := st.Cursor + 1
	log.Info("answer received, advancing", zap.Int("next", next))

	if next >= n {
		st.Cursor = next
		setResult(st, session.ResultCompleted)
		return msgFlowDone
	}

	nextStep := &e.catalog.Steps[next]

	// Unlike the first-visit path above, the answer path has already
	// committed to next before discovering the defect, so the cursor moves.
	if nextStep.Prompt == "" {
		log.Error("next step has no prompt", zap.String("step", nextStep.ID))
		st.Cursor = next
		setResult(st, session.ResultError)
		return configErrorMsg(nextStep, next)
	}

	switch nextStep.Kind() {
	case catalog.ToolNone:
		st.Cursor = next
		return nextStep.Prompt

	case catalog.ToolCompatibilityQuery:
		return e.compatibilityStep(ctx, st, nextStep, next, log)

	default:
		// Catalog validation rejects unknown tools at startup; if one gets
		// here anyway, report it and degrade to a manual prompt. The flow
		// survives, the step just cannot complete automatically.
		log.Error("unknown tool", zap.String("tool", nextStep.Tool.Name), zap.String("step", nextStep.ID))
		st.Cursor = next
		return nextStep.Prompt + "\n\n" + msgDegraded
	}
}

// compatibilityStep consults the oracle and applies the branch rules.
func (e *Engine) compatibilityStep(ctx context.Context, st *session.State, step *catalog.Step, next int, log *zap.Logger) string {
	verdict, err := e.queryOracle(ctx, st)
	if err != nil {
		// Oracle unavailable (or uncallable): degrade to manual
		// verification. Not terminal; the flow continues next turn.
		log.Warn("compatibility check degraded", zap.Error(err))
		st.Cursor = next
		return step.Prompt + "\n\n" + msgDegraded
	}

	st.LastVerdict = verdict
	log.Info("oracle verdict",
		zap.String("compatible", verdict.Compatible.String()),
		zap.Float64("confidence", verdict.Confidence))

	switch verdict.Compatible {
	case oracle.Compatible:
		return e.compatibleBranch(st, step, next, verdict)

	case oracle.Incompatible:
		msg := msgDefaultFail
		if step.OnFail != nil && step.OnFail.Message != "" {
			msg = step.OnFail.Message
		}
		// The oracle's suggested replacement wins over the catalog's.
		alt := verdict.Alternative
		if alt == "" && step.OnFail != nil {
			alt = step.OnFail.Alternative
		}
		if alt != "" {
			msg += fmt.Sprintf("\n\n💡 推荐使用：%s", alt)
		}
		// The flow is over but the cursor stays at the failing step.
		st.Cursor = next
		setResult(st, session.ResultFailed)
		return msg

	default: // unknown
		reason := verdict.Reason
		if reason == "" {
			reason = msgUnknownDefault
		}
		st.Cursor = next
		return fmt.Sprintf("%s\n\n⚠️ %s\n\n%s", step.Prompt, reason, msgConfirmAsk)
	}
}

// compatibleBranch resolves the success target: the on_success id wins over
// the positional successor; a dangling id falls back to the positional one.
func (e *Engine) compatibleBranch(st *session.State, step *catalog.Step, next int, verdict *oracle.Verdict) string {
	reason := verdict.Reason
	if reason == "" {
		reason = "兼容"
	}

	resolved := next + 1
	if step.OnSuccess != nil && step.OnSuccess.Next != "" {
		if idx := e.catalog.IndexOf(step.OnSuccess.Next); idx >= 0 {
			resolved = idx
		}
	}

	if resolved >= e.catalog.Len() {
		st.Cursor = resolved
		setResult(st, session.ResultCompleted)
		return fmt.Sprintf("%s\n\n✅ 核对结果：%s\n\n%s", step.Prompt, reason, msgFlowDone)
	}

	target := &e.catalog.Steps[resolved]
	st.Cursor = resolved
	return fmt.Sprintf("%s\n\n✅ 核对结果：%s\n\n%s", step.Prompt, reason, target.Prompt)
}

// queryOracle pulls the query parameters out of the collected info and makes
// one bounded oracle call. Missing parameters short-circuit to an error
// without calling out.
func (e *Engine) queryOracle(ctx context.Context, st *session.State) (*oracle.Verdict, error) {
	vehicle, _ := st.CustomerInfo["vehicle_model"].(string)
	controller, _ := st.CustomerInfo["controller_model"].(string)
	brand, _ := st.CustomerInfo["controller_brand"].(string)

	if vehicle == "" || controller == "" {
		return nil, errMissingParams
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	verdict, err := e.oracle.Query(qctx, vehicle, controller, brand)
	if err != nil {
		return nil, fmt.Errorf("query compatibility: %w", err)
	}
	return verdict, nil
}

// setResult marks the terminal result, first writer wins.
func setResult(st *session.State, r session.Result) {
	if st.Result == session.ResultUnset {
		st.Result = r
	}
}

func configErrorMsg(step *catalog.Step, idx int) string {
	id := step.ID
	if id == "" {
		id = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("配置错误：步骤 %s 缺少提示信息", id)
}
