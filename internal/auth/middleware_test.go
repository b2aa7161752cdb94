package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, svc *Service, headers map[string]string) (int, *Subject) {
	t.Helper()
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{AuditEvent: "mcp"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc := NewService("  ")
	if svc.Mode() != ModeDisabled {
		t.Fatalf("expected disabled mode")
	}
	status, subject := serve(t, svc, nil)
	if status != http.StatusAccepted || subject == nil || subject.Name != "anonymous" || subject.Authenticated {
		t.Fatalf("unexpected result %d %+v", status, subject)
	}
}

func TestMiddlewareRequiresToken(t *testing.T) {
	svc := NewService("secret")

	cases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{TokenHeader: "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{TokenHeader: "secret"}, http.StatusAccepted},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusAccepted},
		{"basic scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, subject := serve(t, svc, tc.headers)
			if status != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, status)
			}
			if status == http.StatusAccepted && (subject == nil || !subject.Authenticated) {
				t.Fatalf("expected authenticated subject, got %+v", subject)
			}
		})
	}
}

func TestMiddlewareRecordsAgentName(t *testing.T) {
	svc := NewService("secret")
	_, subject := serve(t, svc, map[string]string{TokenHeader: "secret", AgentNameHeader: "research-bot"})
	if subject == nil || subject.Name != "research-bot" {
		t.Fatalf("unexpected subject %+v", subject)
	}
}
