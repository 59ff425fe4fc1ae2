package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/mitchellh/pointerstructure"

	"OpenMCP-Orchestrator/internal/checkpoint"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/llm"
	"OpenMCP-Orchestrator/internal/tools"
	"OpenMCP-Orchestrator/pkg/logger"
)

// beginReview 以模拟模式调用工具得到预览并挂起；模拟失败时记为错误响应并继续提案。
func (o *Orchestrator) beginReview(ctx context.Context, st *runState, call llm.ToolCall) *suspension {
	preview, err := o.dispatcher.Registry().Simulate(ctx, call.Name, call.Args)
	if err != nil {
		st.log.Warn("simulate_failed", slog.String("tool", call.Name), slog.Any("error", err))
		st.addResponse(tools.ErrorResponse(call.ID, call.Name, err))
		return nil
	}
	normalized, _ := normalizePreview(preview).(map[string]any)
	return &suspension{
		stage:    checkpoint.StageExecutor,
		kind:     checkpoint.KindReview,
		question: fmt.Sprintf("The assistant wants to run %s. Review the preview and reply approve, reject, or describe the changes.", call.Name),
		calls:    []llm.ToolCall{call},
		preview:  normalized,
	}
}

// completeReview 按人工决定处理挂起的调用，结果总以工具响应的形式记录。
// 批准的调用在执行前后都会写回检查点，重复恢复只回放记录的结果。
func (o *Orchestrator) completeReview(ctx context.Context, st *runState, cp *checkpoint.Checkpoint, input ResumeInput) error {
	call, preview := cp.Pending.Calls[0], cp.Pending.Preview
	audit := logger.Audit().With(slog.String("thread_id", st.threadID), slog.String("run_id", st.runID), slog.String("tool", call.Name))

	if cp.Pending.Result != nil {
		audit.Info("review_replayed")
		st.toolCalls++
		st.addResponse(*cp.Pending.Result)
		return nil
	}
	if cp.Pending.Approved {
		audit.Warn("review_outcome_unknown")
		st.toolCalls++
		st.addResponse(tools.ErrorResponse(call.ID, call.Name, xerrors.New(xerrors.CodeToolExecution,
			"this approved action was already dispatched in an earlier attempt and its outcome is unknown; do not repeat it without checking")))
		return nil
	}

	decision, err := o.classifyReply(ctx, call, preview, input)
	if err != nil {
		audit.Warn("review_unclassified", slog.String("reply", input.ExternalInput), slog.Any("error", err))
		st.addResponse(tools.ErrorResponse(call.ID, call.Name, err))
		return nil
	}

	switch decision {
	case DecisionApprove:
		audit.Info("review_approved")
		if o.budgetExhausted(st) {
			return nil
		}
		cp.Pending.Approved = true
		if err := o.gateway.Record(ctx, cp); err != nil {
			cp.Pending.Approved = false
			return err
		}
		st.toolCalls++
		resp := o.dispatcher.Dispatch(ctx, call)
		cp.Pending.Result = &resp
		if err := o.gateway.Record(ctx, cp); err != nil {
			audit.Warn("review_result_unrecorded", slog.Any("error", err))
		}
		st.addResponse(resp)
	case DecisionReject:
		audit.Info("review_rejected", slog.String("reply", input.ExternalInput))
		st.addResponse(tools.NewResponse(call.ID, call.Name, encodeContent(map[string]any{
			"status": "rejected",
			"reason": strings.TrimSpace(input.ExternalInput),
			"note":   "the user rejected this action; it was not executed",
		})))
	case DecisionUpdate:
		edited, err := o.editPreview(ctx, call, preview, input.ExternalInput)
		if err != nil {
			audit.Warn("review_edit_failed", slog.String("reply", input.ExternalInput), slog.Any("error", err))
			st.addResponse(tools.ErrorResponse(call.ID, call.Name, err))
			return nil
		}
		audit.Info("review_updated", slog.Any("payload", edited))
		st.addResponse(tools.NewResponse(call.ID, call.Name, encodeContent(map[string]any{
			"status":  "edited",
			"payload": edited,
			"note":    "preview updated as requested; nothing was executed, propose the call again with the edited arguments to run it",
		})))
	}
	return nil
}

var (
	approveWords = []string{"approve", "approved", "yes", "y", "ok", "okay", "confirm", "confirmed", "lgtm", "同意", "批准", "确认"}
	rejectWords  = []string{"reject", "rejected", "no", "n", "cancel", "deny", "stop", "拒绝", "取消"}
	updateWords  = []string{"update", "change", "edit", "modify", "set", "use", "修改", "改为"}
)

// classifyReply 优先使用显式决定，其次匹配关键字，最后交给推理引擎判断。
func (o *Orchestrator) classifyReply(ctx context.Context, call llm.ToolCall, preview map[string]any, input ResumeInput) (Decision, error) {
	if input.Decision != "" {
		return ParseDecision(string(input.Decision))
	}
	reply := strings.ToLower(strings.TrimSpace(input.ExternalInput))
	if reply == "" {
		return "", xerrors.New(xerrors.CodeInterruptClassify, "empty review reply")
	}
	// 只有整句都由同一类决定词组成时才跳过推理引擎；
	// 修改不会执行调用，首词匹配即可。
	words := replyWords(reply)
	switch {
	case allWords(approveWords, words):
		return DecisionApprove, nil
	case allWords(rejectWords, words):
		return DecisionReject, nil
	case len(words) > 0 && containsWord(updateWords, words[0]):
		return DecisionUpdate, nil
	}

	proposal, err := o.propose(ctx, "review", llm.Prompt{
		System: classifyPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf("Pending action: %s\nPreview: %s\nReply: %s",
			call.Name, encodeContent(preview), input.ExternalInput)}},
		Actions: []llm.Action{classifyAction},
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInterruptClassify, err, "could not classify review reply")
	}
	choice, ok := proposal.First(ActionClassify)
	if !ok {
		return "", xerrors.New(xerrors.CodeInterruptClassify, "review reply is neither approve, reject nor update")
	}
	decision, err := ParseDecision(llm.String(choice.Args, "decision"))
	if err != nil || decision == "" {
		return "", xerrors.Newf(xerrors.CodeInterruptClassify, "unknown review decision %q", llm.String(choice.Args, "decision"))
	}
	return decision, nil
}

func replyWords(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func allWords(vocabulary, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !containsWord(vocabulary, w) {
			return false
		}
	}
	return true
}

func containsWord(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}

// editPreview 请推理引擎把自由文本转换为 JSON Pointer 修改，并应用到预览的副本上。
func (o *Orchestrator) editPreview(ctx context.Context, call llm.ToolCall, preview map[string]any, reply string) (map[string]any, error) {
	proposal, err := o.propose(ctx, "review", llm.Prompt{
		System: applyEditsPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf("Pending action: %s\nPreview: %s\nRequested changes: %s",
			call.Name, encodeContent(preview), reply)}},
		Actions: []llm.Action{applyEditsAction},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInterruptClassify, err, "could not extract edits from reply")
	}
	editCall, ok := proposal.First(ActionApplyEdits)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInterruptClassify, "no edits could be extracted from the reply")
	}
	edits := llm.Objects(editCall.Args, "edits")
	if len(edits) == 0 {
		return nil, xerrors.New(xerrors.CodeInterruptClassify, "no edits could be extracted from the reply")
	}

	doc, err := clonePreview(preview)
	if err != nil {
		return nil, err
	}
	var result any = doc
	for _, edit := range edits {
		path := llm.String(edit, "path")
		if path == "" {
			return nil, xerrors.New(xerrors.CodeInterruptClassify, "edit without a path")
		}
		if edit["value"] == nil {
			return nil, xerrors.Newf(xerrors.CodeInterruptClassify, "edit at %s has no value", path)
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		result, err = pointerstructure.Set(result, path, normalizePreview(edit["value"]))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInterruptClassify, err, fmt.Sprintf("cannot apply edit at %s", path))
		}
	}
	edited, ok := result.(map[string]any)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInterruptClassify, "edits replaced the whole payload")
	}
	return edited, nil
}

func clonePreview(preview map[string]any) (map[string]any, error) {
	if preview == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(preview)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInterruptClassify, err, "preview is not serialisable")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInterruptClassify, err, "preview is not serialisable")
	}
	return out, nil
}

// maxSafeInteger 是 JSON 数字可以无损表示的最大整数。
const maxSafeInteger = 1<<53 - 1

// bigConvertible 覆盖 uint256.Int 一类可转换为 big.Int 的类型。
type bigConvertible interface {
	ToBig() *big.Int
}

// normalizePreview 递归地将大整数转换为十进制字符串，使预览可以安全跨进程传输。
func normalizePreview(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case big.Int:
		return val.String()
	case bigConvertible:
		if b := val.ToBig(); b != nil {
			return b.String()
		}
		return nil
	case uint64:
		if val > maxSafeInteger {
			return fmt.Sprintf("%d", val)
		}
		return val
	case int64:
		if val > maxSafeInteger || val < -maxSafeInteger {
			return fmt.Sprintf("%d", val)
		}
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) > maxSafeInteger {
			return new(big.Float).SetFloat64(val).Text('f', 0)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return normalizePreview(n)
		}
		if _, ok := new(big.Int).SetString(val.String(), 10); ok {
			return val.String()
		}
		if f, err := val.Float64(); err == nil {
			return normalizePreview(f)
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizePreview(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizePreview(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > maxSafeInteger || n < -maxSafeInteger {
			return strconv.FormatInt(n, 10)
		}
		return v
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > maxSafeInteger {
			return strconv.FormatUint(n, 10)
		}
		return v
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizePreview(rv.Elem().Interface())
	case reflect.Struct:
		return normalizeStruct(v)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizePreview(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizePreview(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// normalizeStruct 经 JSON 往返把结构体转为通用值，数字保留为 json.Number 以免丢失精度。
func normalizeStruct(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return normalizePreview(out)
}
