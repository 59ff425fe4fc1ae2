package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/checkpoint"
	"OpenMCP-Orchestrator/internal/conversation"
	xerrors "OpenMCP-Orchestrator/internal/errors"
	"OpenMCP-Orchestrator/internal/job"
	"OpenMCP-Orchestrator/internal/plan"
)

const maxBodyBytes = 1 << 20

type messageRequest struct {
	Message string `json:"message"`
	// JobID 在异步模式下作为幂等键。
	JobID string `json:"job_id,omitempty"`
}

type resumeRequest struct {
	Reply    string `json:"reply"`
	Decision string `json:"decision,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// ThreadView 是线程状态接口的响应体。
type ThreadView struct {
	ThreadID  string           `json:"thread_id"`
	// Awaiting 以检查点是否存在为准，多进程部署下同样成立。
	Awaiting  bool             `json:"awaiting"`
	Busy      bool             `json:"busy"`
	Interrupt *agent.Interrupt `json:"interrupt,omitempty"`
	Plans     plan.Collection  `json:"plans"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "message 不能为空")
		return
	}
	if async(r) {
		if s.jobs == nil {
			writeError(w, http.StatusNotImplemented, string(xerrors.CodeInitializationFailure), "未启用异步作业")
			return
		}
		submitted, err := s.jobs.SubmitRun(r.Context(), req.JobID, threadID, req.Message)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitted)
		return
	}
	outcome, err := s.runner.Run(r.Context(), threadID, req.Message)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	decision, err := agent.ParseDecision(req.Decision)
	if err != nil {
		writeErr(w, err)
		return
	}
	input := agent.ResumeInput{ExternalInput: req.Reply, Decision: decision}
	if strings.TrimSpace(input.ExternalInput) == "" && input.Decision == "" {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "reply 或 decision 至少提供一个")
		return
	}
	if _, err := s.threads.Pending(r.Context(), threadID); err != nil {
		writeErr(w, err)
		return
	}
	if async(r) {
		if s.jobs == nil {
			writeError(w, http.StatusNotImplemented, string(xerrors.CodeInitializationFailure), "未启用异步作业")
			return
		}
		submitted, err := s.jobs.SubmitResume(r.Context(), req.JobID, threadID, input)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitted)
		return
	}
	outcome, err := s.runner.Resume(r.Context(), threadID, input)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	if err := conversation.ValidThreadID(threadID); err != nil {
		writeErr(w, err)
		return
	}
	view := ThreadView{ThreadID: threadID, Busy: s.runner.Busy(threadID)}
	interrupt, err := s.threads.Pending(r.Context(), threadID)
	switch {
	case err == nil:
		view.Awaiting = true
		view.Interrupt = interrupt
	case stdErrors.Is(err, checkpoint.ErrNotFound):
	default:
		writeErr(w, err)
		return
	}
	plans, err := s.threads.Conversations().LoadPlans(r.Context(), threadID)
	if err != nil {
		writeErr(w, err)
		return
	}
	view.Plans = plans
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	limit := queryInt(r, "limit", 50)
	turns, err := s.threads.Conversations().History(r.Context(), threadID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "turns": turns})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	found, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	jobs, err := s.jobs.List(r.Context(), listOptions(r)...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w) {
		return
	}
	stats, err := s.jobs.Stats(r.Context(), listOptions(r)...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireJobs(w http.ResponseWriter) bool {
	if s.jobs == nil {
		writeError(w, http.StatusNotImplemented, string(xerrors.CodeInitializationFailure), "未启用异步作业")
		return false
	}
	return true
}

func listOptions(r *http.Request) []job.ListOption {
	q := r.URL.Query()
	opts := []job.ListOption{
		job.WithLimit(queryInt(r, "limit", 20)),
		job.WithOffset(queryInt(r, "offset", 0)),
	}
	if raw := q.Get("status"); raw != "" {
		opts = append(opts, job.WithStatuses(job.ParseStatuses(raw)...))
	}
	if thread := q.Get("thread"); thread != "" {
		opts = append(opts, job.WithThread(thread))
	}
	if kind := q.Get("kind"); kind != "" {
		opts = append(opts, job.WithKind(job.Kind(kind)))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}
	return opts
}

func async(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeErr 按错误码映射 HTTP 状态。
func writeErr(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeError(w, statusFor(code), string(code), err.Error())
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, job.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound, xerrors.CodeNoPendingInterrupt, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeThreadBusy, job.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
