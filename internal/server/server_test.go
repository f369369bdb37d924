package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/knoguchi/cyberrag/internal/rag"
	"github.com/knoguchi/cyberrag/internal/service"
)

type stubService struct {
	queryResp *service.QueryResponse
	err       error
	gotQuery  service.QueryRequest
	cleared   string
}

func (s *stubService) Query(_ context.Context, req service.QueryRequest) (*service.QueryResponse, error) {
	s.gotQuery = req
	return s.queryResp, s.err
}

func (s *stubService) Retrieve(_ context.Context, req service.RetrieveRequest) (*service.RetrieveResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.RetrieveResponse{Sources: []service.Source{{ID: "p1"}}}, nil
}

func (s *stubService) ClearSession(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", service.ErrInvalidArgument)
	}
	s.cleared = id
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Query(t *testing.T) {
	svc := &stubService{queryResp: &service.QueryResponse{Answer: "Use MFA.", RewrittenQuery: "q"}}
	h := NewHTTPServer(HTTPServerConfig{}, svc).Handler()

	rec := do(t, h, http.MethodPost, "/v1/query", `{"query":"How do I stop credential stuffing?","session_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp service.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Use MFA.", resp.Answer)
	assert.Equal(t, "abc", svc.gotQuery.SessionID)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantStage  string
	}{
		{
			name:       "validation",
			err:        fmt.Errorf("%w: query is required", service.ErrInvalidArgument),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "retrieval failure",
			err:        &rag.StageError{Stage: rag.StageRetrieving, Kind: rag.ErrRetrieval, Err: errors.New("qdrant down")},
			wantStatus: http.StatusBadGateway,
			wantStage:  "RETRIEVING",
		},
		{
			name:       "blank query at pipeline level",
			err:        &rag.StageError{Stage: rag.StageRewriting, Kind: rag.ErrEmptyQuery, Err: errors.New("query is blank")},
			wantStatus: http.StatusBadRequest,
			wantStage:  "REWRITING",
		},
		{
			name:       "canceled",
			err:        &rag.StageError{Stage: rag.StageGenerating, Kind: rag.ErrCanceled, Err: context.Canceled},
			wantStatus: http.StatusGatewayTimeout,
			wantStage:  "GENERATING",
		},
		{
			name:       "stage timeout",
			err:        &rag.StageError{Stage: rag.StageGenerating, Kind: rag.ErrGeneration, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantStage:  "GENERATING",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHTTPServer(HTTPServerConfig{}, &stubService{err: tt.err}).Handler()
			rec := do(t, h, http.MethodPost, "/v1/query", `{"query":"q"}`)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.wantStage, body.Stage)
			assert.NotContains(t, body.Error, "qdrant down")
		})
	}
}

func TestHTTP_BadBody(t *testing.T) {
	h := NewHTTPServer(HTTPServerConfig{}, &stubService{}).Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/query", `{"query":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/query", `{"question":"q"}`).Code)
}

func TestHTTP_RetrieveAndSessions(t *testing.T) {
	svc := &stubService{}
	h := NewHTTPServer(HTTPServerConfig{}, svc).Handler()

	rec := do(t, h, http.MethodPost, "/v1/retrieve", `{"query":"ransomware"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"p1"`)

	rec = do(t, h, http.MethodDelete, "/v1/sessions/s-42", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "s-42", svc.cleared)
}

func TestHTTP_HealthAndReadiness(t *testing.T) {
	var readyErr error
	h := NewHTTPServer(HTTPServerConfig{
		Ready: func(context.Context) error { return readyErr },
	}, &stubService{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	readyErr = errors.New("qdrant: connection refused")
	rec := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not ready")
}

func TestHTTP_CORSPreflight(t *testing.T) {
	h := NewHTTPServer(HTTPServerConfig{AllowedOrigins: []string{"https://soc.example.com"}}, &stubService{}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	req.Header.Set("Origin", "https://soc.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://soc.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

// startGRPC serves srv on an in-memory listener and returns a client
// connection to it.
func startGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_HealthLifecycle(t *testing.T) {
	srv := NewGRPCServer(GRPCServerConfig{})
	conn := startGRPC(t, srv)

	client := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	srv.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func invokeRAG(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPC_Query(t *testing.T) {
	page := 2
	svc := &stubService{queryResp: &service.QueryResponse{
		Answer:         "Patch Log4j to 2.17.",
		RewrittenQuery: "How do I mitigate Log4Shell?",
		Sources:        []service.Source{{ID: "c1", SourceID: "cve.pdf", Page: &page, Score: 0.8}},
		Metadata:       service.QueryMetadata{RunID: "run-1", Model: "llama3"},
	}}
	srv := NewGRPCServer(GRPCServerConfig{Service: svc})
	conn := startGRPC(t, srv)

	out, err := invokeRAG(t, conn, "Query", map[string]any{
		"query":      "How do I mitigate it?",
		"session_id": "s1",
		"history": []any{
			map[string]any{"role": "user", "content": "What is Log4Shell?"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "How do I mitigate it?", svc.gotQuery.Query)
	assert.Equal(t, "s1", svc.gotQuery.SessionID)
	require.Len(t, svc.gotQuery.History, 1)
	assert.Equal(t, "What is Log4Shell?", svc.gotQuery.History[0].Content)

	fields := out.GetFields()
	assert.Equal(t, "Patch Log4j to 2.17.", fields["answer"].GetStringValue())
	assert.Equal(t, "How do I mitigate Log4Shell?", fields["rewritten_query"].GetStringValue())
	sources := fields["sources"].GetListValue().GetValues()
	require.Len(t, sources, 1)
	assert.Equal(t, "cve.pdf", sources[0].GetStructValue().GetFields()["source"].GetStringValue())
}

func TestGRPC_RetrieveAndClearSession(t *testing.T) {
	svc := &stubService{}
	conn := startGRPC(t, NewGRPCServer(GRPCServerConfig{Service: svc}))

	out, err := invokeRAG(t, conn, "Retrieve", map[string]any{"query": "ransomware"})
	require.NoError(t, err)
	require.Len(t, out.GetFields()["sources"].GetListValue().GetValues(), 1)

	_, err = invokeRAG(t, conn, "ClearSession", map[string]any{"session_id": "s9"})
	require.NoError(t, err)
	assert.Equal(t, "s9", svc.cleared)

	_, err = invokeRAG(t, conn, "ClearSession", map[string]any{"session_id": ""})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_UnknownFieldIsInvalidArgument(t *testing.T) {
	conn := startGRPC(t, NewGRPCServer(GRPCServerConfig{Service: &stubService{}}))

	_, err := invokeRAG(t, conn, "Query", map[string]any{"question": "typo"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{"validation", fmt.Errorf("%w: query is required", service.ErrInvalidArgument), codes.InvalidArgument},
		{"blank query", &rag.StageError{Stage: rag.StageRewriting, Kind: rag.ErrEmptyQuery, Err: errors.New("query is blank")}, codes.InvalidArgument},
		{"retrieval failure", &rag.StageError{Stage: rag.StageRetrieving, Kind: rag.ErrRetrieval, Err: errors.New("qdrant down")}, codes.Unavailable},
		{"generation failure", &rag.StageError{Stage: rag.StageGenerating, Kind: rag.ErrGeneration, Err: errors.New("upstream 500")}, codes.Unavailable},
		{"stage timeout", &rag.StageError{Stage: rag.StageGenerating, Kind: rag.ErrGeneration, Err: context.DeadlineExceeded}, codes.DeadlineExceeded},
		{"canceled", &rag.StageError{Stage: rag.StageAssembling, Kind: rag.ErrCanceled, Err: context.Canceled}, codes.Canceled},
		{"panic", &rag.StageError{Stage: rag.StageAssembling, Kind: rag.ErrInternal, Err: errors.New("stage panicked")}, codes.Internal},
		{"unknown", errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := startGRPC(t, NewGRPCServer(GRPCServerConfig{Service: &stubService{err: tt.err}}))

			_, err := invokeRAG(t, conn, "Query", map[string]any{"query": "q"})
			require.Error(t, err)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.NotContains(t, st.Message(), "qdrant down")
		})
	}
}
