package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/logging"
	"github.com/RowanDark/unravel/internal/store"
	"github.com/RowanDark/unravel/internal/worker"
)

const testToken = "test-token"

type fakeRecorder struct {
	mu     sync.Mutex
	runs   []*store.Run
	cached *store.Run
}

func (f *fakeRecorder) Lookup(_ context.Context, digest, optionsKey string) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil && f.cached.Digest == digest && f.cached.OptionsKey == optionsKey {
		return f.cached, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeRecorder) Save(_ context.Context, run *store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func startServer(t *testing.T, opts extract.Options, options ...Option) (*bytes.Buffer, func(token string) *Client) {
	t.Helper()
	var journal bytes.Buffer
	audit, err := logging.NewAuditLogger("analyzer", logging.WithWriter(&journal), logging.WithoutStdout())
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	srv, err := NewServer(testToken, opts, append([]Option{WithAuditLogger(audit)}, options...)...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	grpcSrv := srv.Register()
	go func() { _ = grpcSrv.Serve(lis) }()
	t.Cleanup(grpcSrv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &journal, func(token string) *Client { return NewClient(conn, token) }
}

func decodeEvents(t *testing.T, buf *bytes.Buffer) []logging.AuditEvent {
	t.Helper()
	var events []logging.AuditEvent
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var ev logging.AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("decode audit event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestAnalyzeMatchesLocalPipeline(t *testing.T) {
	journal, client := startServer(t, extract.DefaultOptions())
	input := []byte("SECRET")

	got, err := client(testToken).Analyze(context.Background(), input)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	want, err := extract.Analyze(context.Background(), input, extract.DefaultOptions())
	if err != nil {
		t.Fatalf("local analyze: %v", err)
	}
	if len(got.Final) != len(want.Final) {
		t.Fatalf("final length %d, want %d", len(got.Final), len(want.Final))
	}
	for i := range want.Final {
		if got.Final[i] != want.Final[i] {
			t.Fatalf("hit %d = %+v, want %+v", i, got.Final[i], want.Final[i])
		}
	}
	if got.RawCount != want.RawCount || got.UniqueCount != want.UniqueCount {
		t.Fatalf("counts differ: %+v vs %+v", got, want)
	}

	var types []logging.EventType
	for _, ev := range decodeEvents(t, journal) {
		types = append(types, ev.EventType)
	}
	wantTypes := []logging.EventType{logging.EventRPCCall, logging.EventAnalysisStart, logging.EventAnalysisComplete}
	if len(types) != len(wantTypes) {
		t.Fatalf("audit events = %v", types)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Fatalf("audit events = %v, want %v", types, wantTypes)
		}
	}
}

func TestAnalyzeEmptyPayload(t *testing.T) {
	_, client := startServer(t, extract.DefaultOptions())
	res, err := client(testToken).Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Final == nil || res.AllStrings == nil || len(res.Final) != 0 {
		t.Fatalf("expected empty arrays, got %+v", res)
	}
}

func TestAnalyzeRejectsBadToken(t *testing.T) {
	journal, client := startServer(t, extract.DefaultOptions())

	for _, token := range []string{"", "wrong"} {
		_, err := client(token).Analyze(context.Background(), []byte("hello"))
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("token %q: expected Unauthenticated, got %v", token, err)
		}
	}
	events := decodeEvents(t, journal)
	if len(events) != 2 {
		t.Fatalf("expected two denial events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.EventType != logging.EventRPCDenied || ev.Decision != logging.DecisionDeny {
			t.Fatalf("unexpected event %+v", ev)
		}
		if strings.Contains(ev.Reason, "wrong") {
			t.Fatalf("presented token leaked into audit log: %q", ev.Reason)
		}
	}
}

func TestAnalyzeRejectsOversizedPayload(t *testing.T) {
	_, client := startServer(t, extract.DefaultOptions(), WithMaxBytes(16))
	_, err := client(testToken).Analyze(context.Background(), bytes.Repeat([]byte("a"), 17))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestAnalyzeFailureMapsToInternal(t *testing.T) {
	opts := extract.DefaultOptions()
	opts.Limits.WindowStride = 0
	journal, client := startServer(t, opts)

	_, err := client(testToken).Analyze(context.Background(), []byte("hello"))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
	if !strings.Contains(st.Message(), "analysis rejected") {
		t.Fatalf("unexpected message %q", st.Message())
	}
	events := decodeEvents(t, journal)
	if last := events[len(events)-1]; last.EventType != logging.EventAnalysisFailed {
		t.Fatalf("expected analysis_failed event, got %+v", last)
	}
}

func TestAnalyzePersistsAndServesCache(t *testing.T) {
	rec := &fakeRecorder{}
	_, client := startServer(t, extract.DefaultOptions(), WithRecorder(rec))
	c := client(testToken)

	first, err := c.Analyze(context.Background(), []byte("hello world"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("expected one persisted run, got %d", len(rec.runs))
	}
	run := rec.runs[0]
	if run.Size != 11 || run.Digest == "" || run.OptionsKey != store.OptionsKey(extract.DefaultOptions()) {
		t.Fatalf("unexpected run %+v", run)
	}

	rec.cached = run
	second, err := c.Analyze(context.Background(), []byte("hello world"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("cached call should not persist again, got %d runs", len(rec.runs))
	}
	if len(second.Final) != len(first.Final) || second.Final[0] != first.Final[0] {
		t.Fatalf("cached result differs: %+v vs %+v", second.Final, first.Final)
	}
}

func TestNewServerRequiresToken(t *testing.T) {
	if _, err := NewServer("  ", extract.DefaultOptions()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestAnalyzeThroughWorkerPool(t *testing.T) {
	pool := worker.NewPool(2, extract.DefaultOptions())
	pool.Start()
	defer pool.Stop()
	_, client := startServer(t, extract.DefaultOptions(), WithPool(worker.NewDispatcher(pool)))

	inputs := [][]byte{
		[]byte("SECRET"),
		[]byte("hello world"),
		{0xff, 0xff, 's' ^ 0x20, 'e' ^ 0x20, 'c' ^ 0x20, 'r' ^ 0x20, 'e' ^ 0x20, 't' ^ 0x20, 0xff},
		[]byte("player_token"),
	}
	var wg sync.WaitGroup
	for _, input := range inputs {
		wg.Add(1)
		go func(input []byte) {
			defer wg.Done()
			got, err := client(testToken).Analyze(context.Background(), input)
			if err != nil {
				t.Errorf("analyze %q: %v", input, err)
				return
			}
			want, err := extract.Analyze(context.Background(), input, extract.DefaultOptions())
			if err != nil {
				t.Errorf("local analyze %q: %v", input, err)
				return
			}
			if len(got.Final) != len(want.Final) {
				t.Errorf("%q: final length %d, want %d", input, len(got.Final), len(want.Final))
				return
			}
			for i := range want.Final {
				if got.Final[i] != want.Final[i] {
					t.Errorf("%q: hit %d = %+v, want %+v", input, i, got.Final[i], want.Final[i])
				}
			}
		}(input)
	}
	wg.Wait()
}

func TestAnalyzeAfterPoolStopped(t *testing.T) {
	pool := worker.NewPool(1, extract.DefaultOptions())
	pool.Start()
	dispatcher := worker.NewDispatcher(pool)
	_, client := startServer(t, extract.DefaultOptions(), WithPool(dispatcher))

	pool.Stop()
	<-dispatcher.Done()

	_, err := client(testToken).Analyze(context.Background(), []byte("hello world"))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}
