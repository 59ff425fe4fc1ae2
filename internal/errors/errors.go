package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	// 编排引擎相关错误码。
	CodeReasoningFailure     Code = "ORCH_REASONING_FAILED"
	CodeMalformedStageOutput Code = "ORCH_MALFORMED_STAGE_OUTPUT"
	CodeRetryExhausted       Code = "ORCH_RETRY_EXHAUSTED"
	CodeLiveLock             Code = "ORCH_LIVE_LOCK"
	CodeInterruptClassify    Code = "ORCH_INTERRUPT_CLASSIFICATION"
	CodeNoPendingInterrupt   Code = "ORCH_NO_PENDING_INTERRUPT"
	CodeThreadBusy           Code = "ORCH_THREAD_BUSY"
	CodeToolExecution        Code = "TOOL_EXECUTION_FAILED"
	CodeToolNotFound         Code = "TOOL_NOT_FOUND"
	CodeChainFailure         Code = "CHAIN_RPC_FAILED"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[Code]Attributes)
)

func init() {
	defaults := []struct {
		code Code
		attr Attributes
	}{
		{CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityCritical, Alert: true}},
		{CodeInvalidArgument, Attributes{Message: "invalid argument", Severity: SeverityInfo}},
		{CodeNotFound, Attributes{Message: "resource not found", Severity: SeverityInfo}},
		{CodeConflict, Attributes{Message: "resource conflict", Severity: SeverityWarning}},
		{CodeUnauthorized, Attributes{Message: "unauthorized", Severity: SeverityWarning}},
		{CodeInitializationFailure, Attributes{Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true}},
		{CodeStorageFailure, Attributes{Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true}},
		{CodeQueueFailure, Attributes{Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true}},
		{CodeTimeout, Attributes{Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true}},
		{CodeReasoningFailure, Attributes{Message: "reasoning adapter failed", Severity: SeverityWarning, Retryable: true, Alert: true}},
		{CodeMalformedStageOutput, Attributes{Message: "stage produced no actionable output", Severity: SeverityInfo}},
		{CodeRetryExhausted, Attributes{Message: "task retry ceiling reached", Severity: SeverityWarning, Alert: true}},
		{CodeLiveLock, Attributes{Message: "repeated selection without progress", Severity: SeverityWarning, Alert: true}},
		{CodeInterruptClassify, Attributes{Message: "human reply could not be classified", Severity: SeverityInfo}},
		{CodeNoPendingInterrupt, Attributes{Message: "no pending interrupt for thread", Severity: SeverityInfo}},
		{CodeThreadBusy, Attributes{Message: "thread already has an active run", Severity: SeverityInfo, Retryable: true}},
		{CodeToolExecution, Attributes{Message: "tool execution failed", Severity: SeverityWarning}},
		{CodeToolNotFound, Attributes{Message: "tool not registered", Severity: SeverityInfo}},
		{CodeChainFailure, Attributes{Message: "chain rpc failed", Severity: SeverityWarning, Retryable: true}},
	}
	for _, d := range defaults {
		registry[d.code] = d.attr
	}
}

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// Registered 返回所有已注册的错误码，按字典序排列。
func Registered() []Code {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]Code, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 以格式化信息创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// LogValue 让错误以结构化字段写入 slog。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
		slog.String("severity", string(e.Severity())),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否包含指定错误码。
func HasCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
		err = stdErrors.Unwrap(err)
	}
	return false
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
