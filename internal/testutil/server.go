package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/emergent-company/containersvc/domain/container"
	"github.com/emergent-company/containersvc/domain/health"
	"github.com/emergent-company/containersvc/internal/config"
	"github.com/emergent-company/containersvc/pkg/apperror"
)

// TestServer wraps an Echo instance, wired with the Container Service,
// for HTTP-level testing.
type TestServer struct {
	Echo    *echo.Echo
	TestDB  *TestDB
	DB      bun.IDB
	Config  *config.Config
	Log     *slog.Logger
	Service *container.Service
	Store   *container.Store
	Stores  *container.StoreRegistry
}

// NewTestServer creates a test server with the Container Service's routes
// registered, no auth middleware (this domain has none — see
// domain/container/routes.go).
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB())
}

// newTestServerWithDB creates a test server with a specific DB connection
func newTestServerWithDB(testDB *TestDB, db bun.IDB) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	cfg := testDB.Config
	if cfg.AssetRoot == "" {
		cfg.AssetRoot = os.TempDir()
	}

	store := container.NewStore(db)
	git := container.NewLocalGit("")
	notif := container.NewLogNotification(log)
	stores := container.NewStoreRegistry()
	executors := container.NewExecutorRegistry(nil, container.NewQaMockExecutor())
	logWriter := container.NewLogWriter(db, cfg.AssetRoot)
	caps := container.NewLocalCapabilities(cfg.AssetRoot, cfg.GitBranchPrefix)
	svc := container.NewService(caps, store, git, notif, stores, executors, logWriter, log)
	handler := container.NewHandler(svc, store, stores, executors, cfg.AssetRoot, cfg.GitBranchPrefix, log)

	container.RegisterRoutes(e, handler)
	health.RegisterRoutes(e, health.NewHandler(testDB.Pool, cfg))

	return &TestServer{
		Echo:    e,
		TestDB:  testDB,
		DB:      db,
		Config:  cfg,
		Log:     log,
		Service: svc,
		Store:   store,
		Stores:  stores,
	}
}

// Request performs an HTTP request against the test server
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)

	// Apply options
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request
func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithAuth adds an Authorization header
func WithAuth(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithProjectID adds an X-Project-ID header
func WithProjectID(projectID string) RequestOption {
	return WithHeader("X-Project-ID", projectID)
}

// WithOrgID adds an X-Org-ID header
func WithOrgID(orgID string) RequestOption {
	return WithHeader("X-Org-ID", orgID)
}

// WithJSON adds Content-Type: application/json header
func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

// WithBody adds a request body
func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithAPIToken adds an Authorization header with the Bearer prefix (for API tokens)
func WithAPIToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRawAuth adds a raw Authorization header value
func WithRawAuth(value string) RequestOption {
	return WithHeader("Authorization", value)
}

// WithJSONBody sets Content-Type to application/json and marshals the body to JSON
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// MultipartForm represents a multipart form for testing file uploads
type MultipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

// NewMultipartForm creates a new multipart form builder
func NewMultipartForm() *MultipartForm {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	return &MultipartForm{
		body:   body,
		writer: writer,
	}
}

// AddFile adds a file to the multipart form
func (m *MultipartForm) AddFile(fieldName, filename string, content []byte) error {
	part, err := m.writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

// AddField adds a regular field to the multipart form
func (m *MultipartForm) AddField(fieldName, value string) error {
	return m.writer.WriteField(fieldName, value)
}

// Close finalizes the multipart form and returns the content type
func (m *MultipartForm) Close() string {
	m.writer.Close()
	m.contentType = m.writer.FormDataContentType()
	return m.contentType
}

// WithMultipartForm adds a multipart form body to the request
func WithMultipartForm(form *MultipartForm) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", form.contentType)
		r.Body = io.NopCloser(bytes.NewReader(form.body.Bytes()))
		r.ContentLength = int64(form.body.Len())
	}
}
