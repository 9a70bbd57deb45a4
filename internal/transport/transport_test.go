package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockTransport struct {
	responses []*http.Response
	call      int
}

func (m *mockTransport) RoundTrip(*http.Request) (*http.Response, error) {
	resp := m.responses[m.call]
	if m.call < len(m.responses)-1 {
		m.call++
	}
	return resp, nil
}

func jsonResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{StatusCode: status, Body: http.NoBody, Header: header}
}

func TestWithRetryAfter429RetriesUntilSuccess(t *testing.T) {
	header := make(http.Header)
	header.Set("Retry-After", "0")
	mock := &mockTransport{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, header),
		jsonResponse(http.StatusOK, nil),
	}}

	rt := WithRetryAfter429(mock, 3)
	req, _ := http.NewRequest(http.MethodGet, "http://upstream.example/x", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", resp.StatusCode)
	}
	if mock.call != 1 {
		t.Fatalf("expected exactly one retry, got %d extra calls", mock.call)
	}
}

func TestWithRetryAfter429RespectsMaxRetries(t *testing.T) {
	header := make(http.Header)
	header.Set("Retry-After", "0")
	mock := &mockTransport{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, header),
	}}

	rt := WithRetryAfter429(mock, 2)
	req, _ := http.NewRequest(http.MethodGet, "http://upstream.example/x", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected the final response to still be 429 after exhausting retries, got %d", resp.StatusCode)
	}
}

func TestWithRetryAfter429DoesNotRetryOtherStatuses(t *testing.T) {
	mock := &mockTransport{responses: []*http.Response{jsonResponse(http.StatusInternalServerError, nil)}}
	rt := WithRetryAfter429(mock, 3)
	req, _ := http.NewRequest(http.MethodGet, "http://upstream.example/x", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 to pass through without retry, got %d", resp.StatusCode)
	}
}

func TestParseRetryAfterDefaultsWhenAbsent(t *testing.T) {
	if got := parseRetryAfter(""); got != time.Second {
		t.Fatalf("expected 1s default, got %v", got)
	}
}

func TestParseRetryAfterParsesSeconds(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
}

func TestWithRequestTimeoutCancelsSlowRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	rt := WithRequestTimeout(http.DefaultTransport, 10*time.Millisecond)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := rt.RoundTrip(req)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
}

func TestWithRequestTimeoutDisabledByZero(t *testing.T) {
	if WithRequestTimeout(http.DefaultTransport, 0) != http.RoundTripper(http.DefaultTransport) {
		t.Fatalf("expected a timeout of 0 to return base unchanged")
	}
}

func TestWithRetryAfter429HonoursContextCancellation(t *testing.T) {
	header := make(http.Header)
	header.Set("Retry-After", "60")
	mock := &mockTransport{responses: []*http.Response{jsonResponse(http.StatusTooManyRequests, header)}}

	rt := WithRetryAfter429(mock, 3)
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodGet, "http://upstream.example/x", nil)
	req = req.WithContext(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := rt.RoundTrip(req)
	if err == nil {
		t.Fatalf("expected context cancellation to abort the retry wait")
	}
}
