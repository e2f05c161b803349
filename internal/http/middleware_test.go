package http

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/facility-scheduler/internal/testfixtures"
)

type recordingObserver struct {
	mu        sync.Mutex
	served    map[string][]int
	throttled int
}

func (o *recordingObserver) RequestServed(route string, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.served == nil {
		o.served = make(map[string][]int)
	}
	o.served[route] = append(o.served[route], code)
}

func (o *recordingObserver) RequestThrottled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.throttled++
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	var sawLogger bool
	handler := RequestLogger(testfixtures.DiscardLogger(), observer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, sawLogger)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, []int{http.StatusTeapot}, observer.served["calendar"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/abc/status", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "a request id is generated when absent")
	assert.Len(t, observer.served["task_status"], 1)
}

func TestActorFromHeader(t *testing.T) {
	t.Parallel()

	var (
		actor string
		found bool
	)
	handler := ActorFromHeader()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, found = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/tasks/x/status", nil)
	req.Header.Set(ActorHeader, "  tech-9 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, found)
	assert.Equal(t, "tech-9", actor)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/tasks/x/status", nil))
	assert.False(t, found)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	middleware := RateLimit(0.001, 1, observer, testfixtures.DiscardLogger())
	require.NotNil(t, middleware)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(method string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, "/tasks/x/status", nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost).Code)
	limited := serve(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, serve(http.MethodGet).Code, "reads are not limited")
	assert.Equal(t, 1, observer.throttled)

	assert.Nil(t, RateLimit(0, 5, nil, nil), "non-positive rate disables the limiter")
}

func TestCORS(t *testing.T) {
	t.Parallel()

	assert.Nil(t, CORS(nil))

	handler := CORS([]string{"https://ops.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/tasks/x/status", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", ActorHeader)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, "https://ops.example.com", preflight("https://ops.example.com").Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, preflight("https://evil.example.com").Header().Get("Access-Control-Allow-Origin"))
}
