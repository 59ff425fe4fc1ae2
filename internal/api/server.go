package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"OpenMCP-Orchestrator/internal/agent"
	"OpenMCP-Orchestrator/internal/auth"
	"OpenMCP-Orchestrator/internal/conversation"
	"OpenMCP-Orchestrator/internal/job"
	"OpenMCP-Orchestrator/internal/observability/metrics"
)

// Runner 同步执行运行，并保证同一线程没有并发运行。
type Runner interface {
	Run(ctx context.Context, threadID, request string) (*agent.Outcome, error)
	Resume(ctx context.Context, threadID string, input agent.ResumeInput) (*agent.Outcome, error)
	Busy(threadID string) bool
}

// Threads 提供线程的只读视图，由 *agent.Orchestrator 实现。
type Threads interface {
	Pending(ctx context.Context, threadID string) (*agent.Interrupt, error)
	Conversations() conversation.Store
}

// Jobs 是异步作业服务。
type Jobs interface {
	SubmitRun(ctx context.Context, id, threadID, request string) (*job.Job, error)
	SubmitResume(ctx context.Context, id, threadID string, input agent.ResumeInput) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, opts ...job.ListOption) ([]*job.Job, error)
	Stats(ctx context.Context, opts ...job.ListOption) (job.Stats, error)
}

// Server 负责暴露 REST 接口，供外部驱动编排运行。
type Server struct {
	addr            string
	runner          Runner
	threads         Threads
	jobs            Jobs
	auth            *auth.Service
	shutdownTimeout time.Duration
	handler         http.Handler
}

// Option 定义可选配置。
type Option func(*Server)

// WithJobs 开启异步接口。
func WithJobs(jobs Jobs) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithAuth 为接口加上令牌校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner Runner, threads Threads, opts ...Option) *Server {
	s := &Server{addr: addr, runner: runner, threads: threads, shutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	write := s.auth.Require(auth.PermissionRunsWrite)
	approve := s.auth.Require(auth.PermissionRunsApprove)

	mux := http.NewServeMux()
	s.handle(mux, "POST /api/v1/threads/{thread}/messages", write, s.handlePostMessage)
	s.handle(mux, "POST /api/v1/threads/{thread}/resume", approve, s.handleResume)
	s.handle(mux, "GET /api/v1/threads/{thread}", write, s.handleGetThread)
	s.handle(mux, "GET /api/v1/threads/{thread}/history", write, s.handleHistory)
	s.handle(mux, "GET /api/v1/jobs", write, s.handleListJobs)
	s.handle(mux, "GET /api/v1/jobs/stats", write, s.handleJobStats)
	s.handle(mux, "GET /api/v1/jobs/{id}", write, s.handleGetJob)
	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, guard func(http.Handler) http.Handler, fn http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, guard(fn)))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// instrument 记录请求数量与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
