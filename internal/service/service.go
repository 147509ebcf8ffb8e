// Package service exposes the analysis pipeline over gRPC as
// unravel.v1.Analyzer. The request is a google.protobuf.BytesValue holding
// the blob; the response is the Result rendered as a google.protobuf.Struct.
package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/logging"
	"github.com/RowanDark/unravel/internal/source"
	"github.com/RowanDark/unravel/internal/store"
	"github.com/RowanDark/unravel/internal/worker"
)

const (
	ServiceName   = "unravel.v1.Analyzer"
	AnalyzeMethod = "/" + ServiceName + "/Analyze"

	// TokenHeader carries the bearer token on every call.
	TokenHeader = "authorization"
)

// AnalyzerServer is implemented by Server.
type AnalyzerServer interface {
	Analyze(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// ServiceDesc describes unravel.v1.Analyzer for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "unravel/v1/analyzer.proto",
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalyzerServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnalyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalyzerServer).Analyze(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Recorder persists runs and serves cached results.
type Recorder interface {
	Lookup(ctx context.Context, digest, optionsKey string) (*store.Run, error)
	Save(ctx context.Context, run *store.Run) error
}

// Server implements AnalyzerServer.
type Server struct {
	token    string
	opts     extract.Options
	maxBytes int
	recorder Recorder
	pool     *worker.Dispatcher
	audit    *logging.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the server.
type Option func(*Server)

// WithAuditLogger overrides the audit logger used by the server.
func WithAuditLogger(logger *logging.AuditLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder enables run persistence and result caching.
func WithRecorder(rec Recorder) Option {
	return func(s *Server) {
		s.recorder = rec
	}
}

// WithPool runs analyses on a shared worker pool instead of the calling
// goroutine.
func WithPool(d *worker.Dispatcher) Option {
	return func(s *Server) {
		s.pool = d
	}
}

// WithMaxBytes rejects payloads larger than n bytes.
func WithMaxBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewServer constructs an analyzer requiring token on every call.
func NewServer(token string, opts extract.Options, options ...Option) (*Server, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("auth token must be provided")
	}
	s := &Server{
		token:    token,
		opts:     opts,
		maxBytes: 64 << 20,
		audit:    logging.NopAuditLogger(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Register installs the analyzer on a fresh grpc.Server guarded by the
// token interceptor.
func (s *Server) Register(extra ...grpc.ServerOption) *grpc.Server {
	opts := append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.authInterceptor)}, extra...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, s)
	return srv
}

func (s *Server) authInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authorize(ctx); err != nil {
		_ = s.audit.Emit(logging.AuditEvent{
			EventType: logging.EventRPCDenied,
			Decision:  logging.DecisionDeny,
			Reason:    err.Error(),
			Metadata:  map[string]any{"method": info.FullMethod},
		})
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(ctx, req)
}

func (s *Server) authorize(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return errors.New("missing metadata")
	}
	values := md.Get(TokenHeader)
	if len(values) == 0 {
		return errors.New("missing token")
	}
	presented, found := strings.CutPrefix(strings.TrimSpace(values[0]), "Bearer ")
	if !found || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(s.token)) != 1 {
		return errors.New("invalid token")
	}
	return nil
}

// Analyze runs the pipeline over the request bytes.
func (s *Server) Analyze(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	data := req.GetValue()
	if len(data) > s.maxBytes {
		return nil, status.Errorf(codes.InvalidArgument, "payload of %d bytes exceeds limit of %d", len(data), s.maxBytes)
	}

	runID := uuid.NewString()
	digest := source.Digest(data)
	optionsKey := store.OptionsKey(s.opts)
	s.audit.Record(logging.EventRPCCall, runID, map[string]any{
		"method": AnalyzeMethod,
		"bytes":  len(data),
		"digest": digest,
	})

	if s.recorder != nil {
		cached, err := s.recorder.Lookup(ctx, digest, optionsKey)
		switch {
		case err == nil:
			s.logger.Info("serving cached result", "run_id", cached.ID, "digest", digest)
			return toStruct(cached.Result)
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Warn("cache lookup failed", "error", err)
		}
	}

	s.audit.Record(logging.EventAnalysisStart, runID, map[string]any{"bytes": len(data)})
	resp, err := s.dispatch(ctx, worker.Request{ID: runID, Buffer: data})
	if err != nil {
		s.logger.Warn("analysis abandoned", "run_id", runID, "error", err)
		return nil, err
	}
	if resp.Error != nil {
		_ = s.audit.Emit(logging.AuditEvent{
			RunID:     runID,
			EventType: logging.EventAnalysisFailed,
			Decision:  logging.DecisionDeny,
			Reason:    resp.Error.Message,
		})
		return nil, status.Error(codes.Internal, resp.Error.Message)
	}
	res := resp.Result
	s.audit.Record(logging.EventAnalysisComplete, runID, map[string]any{
		"final":     len(res.Final),
		"unique":    res.UniqueCount,
		"important": len(res.LikelyImportant),
	})

	if s.recorder != nil {
		run := &store.Run{
			ID:         runID,
			Source:     "rpc",
			Digest:     digest,
			Size:       int64(len(data)),
			OptionsKey: optionsKey,
			CreatedAt:  s.now().UTC(),
			Result:     res,
		}
		if err := s.recorder.Save(ctx, run); err != nil {
			s.logger.Warn("failed to persist run", "run_id", runID, "error", err)
		} else {
			s.audit.Record(logging.EventStoreWrite, runID, map[string]any{"digest": digest})
		}
	}
	return toStruct(res)
}

func (s *Server) dispatch(ctx context.Context, req worker.Request) (worker.Response, error) {
	if s.pool == nil {
		opts := s.opts
		opts.Logger = s.logger.With("run_id", req.ID)
		return worker.Handle(ctx, req, opts), nil
	}
	resp, err := s.pool.Do(ctx, req)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, worker.ErrStopped):
		return resp, status.Error(codes.Unavailable, "analyzer is shutting down")
	default:
		return resp, status.FromContextError(err).Err()
	}
}

func toStruct(res *extract.Result) (*structpb.Struct, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// FromStruct decodes an Analyze response.
func FromStruct(st *structpb.Struct) (*extract.Result, error) {
	raw, err := protojson.Marshal(st)
	if err != nil {
		return nil, err
	}
	var res extract.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
