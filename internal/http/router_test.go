package httpx

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/loickadjiwanou/hostedhost/internal/repository/memory"
	"github.com/loickadjiwanou/hostedhost/internal/service/archive"
	"github.com/loickadjiwanou/hostedhost/internal/service/auth"
	"github.com/loickadjiwanou/hostedhost/internal/service/build"
	"github.com/loickadjiwanou/hostedhost/internal/service/deploy"
	"github.com/loickadjiwanou/hostedhost/internal/service/ports"
	"github.com/loickadjiwanou/hostedhost/internal/service/project"
	"github.com/loickadjiwanou/hostedhost/internal/service/supervisor"
	"github.com/loickadjiwanou/hostedhost/internal/ws"
	"github.com/loickadjiwanou/hostedhost/pkg/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	logger := discardLogger()
	cfg := config.PanelConfig{
		JWTSecret:      "router-test-secret",
		AccessTokenTTL: time.Hour,
	}

	repo := memory.New()
	sitesRoot := t.TempDir()
	pipeline, err := archive.New(sitesRoot, 1<<20, logger)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	allocator, err := ports.NewAllocator(4001, 4010)
	if err != nil {
		t.Fatalf("ports.NewAllocator: %v", err)
	}
	runner := build.NewRunner([]string{"/bin/sh", "-c", "true"}, []string{"/bin/sh", "-c", "true"}, time.Minute, time.Minute, logger)
	detector := supervisor.LogLineDetector{Window: 5 * time.Second, Grace: 2 * time.Second}
	sup := supervisor.New([]string{"/bin/sh", "-c", "echo listening; exec sleep 30"}, detector, logger)
	t.Cleanup(sup.StopAll)

	hub := ws.NewHub()
	deploySvc := deploy.New(repo, pipeline, allocator, runner, sup, hub, logger, sitesRoot)
	router := NewRouter(logger, auth.New(repo, logger, cfg), project.New(repo, logger), deploySvc, hub, nil, nil)
	t.Cleanup(router.Close)
	return router
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signup(t *testing.T, router *Router, email string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if payload.Token == "" {
		t.Fatal("signup response carries no token")
	}
	return payload.Token
}

func projectArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"frontend/package.json": `{"name":"fe"}`,
		"backend/package.json":  `{"name":"be","dependencies":{"express":"^4.18.0"}}`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func deployRequest(t *testing.T, token, name string, archiveData []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		t.Fatalf("write name field: %v", err)
	}
	if archiveData != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="archive"; filename="`+name+`.zip"`)
		header.Set("Content-Type", "application/zip")
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create archive part: %v", err)
		}
		if _, err := part.Write(archiveData); err != nil {
			t.Fatalf("write archive part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/deploy/dynamic", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/processes"},
		{http.MethodGet, "/projects"},
		{http.MethodPost, "/deploy/dynamic"},
		{http.MethodPost, "/stop/shop"},
		{http.MethodPost, "/restart/shop"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, "", nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSignupAndLogin(t *testing.T) {
	router := newTestRouter(t)
	signup(t, router, "alice@example.com")

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "alice@example.com", "password": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup returned %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password login returned %d", rec.Code)
	}
}

func TestSignupRejectsWrongMethod(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/auth/signup", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestDeployLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	token := signup(t, router, "alice@example.com")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, deployRequest(t, token, "shop", projectArchive(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("deploy returned %d: %s", rec.Code, rec.Body.String())
	}
	var deployed struct {
		Port  int      `json:"port"`
		Notes []string `json:"notes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &deployed); err != nil {
		t.Fatalf("decode deploy response: %v", err)
	}
	if deployed.Port != 4001 {
		t.Fatalf("unexpected port %d", deployed.Port)
	}
	if len(deployed.Notes) == 0 {
		t.Fatal("deploy response carries no notes")
	}

	rec = doJSON(t, router, http.MethodGet, "/processes", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("processes returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "shop") {
		t.Fatalf("processes listing missing project: %s", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/projects", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"shop"`) {
		t.Fatalf("projects listing %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/stop/shop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop returned %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/stop/shop", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second stop returned %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/restart/shop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeployWithoutArchiveFails(t *testing.T) {
	router := newTestRouter(t)
	token := signup(t, router, "alice@example.com")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, deployRequest(t, token, "shop", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeployDuplicateNameConflicts(t *testing.T) {
	router := newTestRouter(t)
	token := signup(t, router, "alice@example.com")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, deployRequest(t, token, "shop", projectArchive(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first deploy returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, deployRequest(t, token, "shop", projectArchive(t)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate deploy returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRestartUnknownProject(t *testing.T) {
	router := newTestRouter(t)
	token := signup(t, router, "alice@example.com")

	rec := doJSON(t, router, http.MethodPost, "/restart/ghost", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthzWithoutDatabase(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}
