package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/rowgraph/internal/config"
	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store/sqlstore"
)

const testSchema = `
entities:
  - name: Parent
    fields:
      - {name: firstname}
      - {name: lastname}
    associations:
      - {name: children, kind: has_many, target: Child}
  - name: Child
    table: children
    fields:
      - {name: firstname}
    associations:
      - {name: parent, kind: belongs_to}
`

const familyCSV = "Firstname,Lastname,Children Firstname\n" +
	"Homer,Simpson,Bart\n" +
	"Homer,Simpson,Lisa\n" +
	"Clancey,Wiggum,Ralph\n"

func testConfig() *config.Config {
	return &config.Config{
		Import:   config.ImportConfig{MaxFileSize: 1 << 20},
		Security: config.SecurityConfig{RateLimit: 1000},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	reg, err := schema.Load(strings.NewReader(testSchema))
	require.NoError(t, err)

	st, err := sqlstore.Open(t.Context(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "web.db"), sqlstore.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.CreateSchema(t.Context(), reg))

	templates := core.NewTemplateRegistry()
	templates.Register("Parent", &core.Template{
		All:     []core.Item{core.Col("firstname"), core.Col("lastname"), core.Assoc("children", core.Col("firstname"))},
		Uniques: [][]string{{"firstname"}, {"children_firstname"}},
	})

	service := core.NewService(st, reg, templates, core.ServiceConfig{Timeout: time.Minute})
	s := NewServer(service, cfg)
	t.Cleanup(s.limiter.stop)
	return s
}

func (s *Server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

type importBody struct {
	Summary core.ImportSummary `json:"summary"`
	Result  json.RawMessage    `json:"result"`
}

func multipartUpload(t *testing.T, url, csv string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "family.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, csv)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestServer_ListEntities(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []core.EntityInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "Child", infos[0].Name)
	assert.Equal(t, "Parent", infos[1].Name)
	assert.True(t, infos[1].HasTemplate)
	assert.Equal(t, []string{"Firstname", "Lastname", "Children Firstname"}, infos[1].Columns)
}

func TestServer_TemplateAndSuggest(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/entities/Parent/template", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "children")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/entities/Child/suggest?hops=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parent")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/entities/Child/suggest?hops=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", decodeError(t, rec).Code)
}

func TestServer_DownloadTemplate(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/template/Parent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Firstname,Lastname,Children Firstname\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Parent_template.csv"`)
}

func TestServer_ImportAndExport(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(multipartUpload(t, "/api/import/Parent", familyCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body importBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Parent", body.Summary.Entity)
	assert.Equal(t, 2, body.Summary.Inserted)
	assert.Equal(t, 1, body.Summary.Updated)
	assert.Equal(t, 0, body.Summary.Errors)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/export/Parent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, familyCSV, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestServer_Preview(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(multipartUpload(t, "/api/import/Parent/preview", familyCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"dry_run":true`)

	var body importBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Summary.Inserted)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/export/Parent", nil))
	assert.Equal(t, "Firstname,Lastname,Children Firstname\n", rec.Body.String())
}

func TestServer_ImportRawBody(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/import/Parent", strings.NewReader(familyCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body importBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Summary.Inserted)
}

func TestServer_ImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(*config.Config)
		req    func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name: "no file",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/import/Parent", nil)
			},
			status: http.StatusBadRequest,
			code:   "FILE004",
		},
		{
			name: "file too large",
			cfg:  func(c *config.Config) { c.Import.MaxFileSize = 10 },
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/import/Parent", strings.NewReader(familyCSV))
			},
			status: http.StatusRequestEntityTooLarge,
			code:   "FILE001",
		},
		{
			name: "unknown entity",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "/api/import/Spaceship", familyCSV)
			},
			status: http.StatusNotFound,
			code:   "TPL004",
		},
		{
			name: "no unique column",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "/api/import/Parent", "Lastname\nSimpson\n")
			},
			status: http.StatusUnprocessableEntity,
			code:   "IMP001",
		},
		{
			name: "empty file",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "/api/import/Parent", "")
			},
			status: http.StatusBadRequest,
			code:   "FILE005",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			s := newTestServer(t, cfg)

			rec := s.do(tt.req(t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestServer_BackgroundImport(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(multipartUpload(t, "/api/import/Parent/start", familyCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	runID := started["run_id"]
	require.NotEmpty(t, runID)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body importBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runID, body.Summary.RunID)
	assert.Equal(t, "Parent", body.Summary.Entity)
	assert.Equal(t, 2, body.Summary.Inserted)

	// The run has finished, so the stream sends the final state and ends.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	stream := rec.Body.String()
	assert.Contains(t, stream, "id: 3\nevent: progress\n")
	assert.Contains(t, stream, `"phase":"complete"`)
	assert.True(t, strings.HasSuffix(stream, "event: complete\ndata: {}\n\n"))
}

func TestServer_Match(t *testing.T) {
	s := newTestServer(t, testConfig())

	rec := s.do(multipartUpload(t, "/api/match", familyCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var matches []core.EntityMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	assert.Equal(t, []core.EntityMatch{{Entity: "Parent", Score: 1}}, matches)

	rec = s.do(multipartUpload(t, "/api/match", "Colour,Size\n"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_UnknownRun(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/runs/nope/result", nil),
		httptest.NewRequest(http.MethodGet, "/api/runs/nope/progress", nil),
		httptest.NewRequest(http.MethodPost, "/api/runs/nope/cancel", nil),
	} {
		rec := s.do(req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.URL.Path)
	}
}

func TestServer_APIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := newTestServer(t, cfg)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-API-Key", "guess")
	rec = s.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit = 2
	s := newTestServer(t, cfg)

	for range 2 {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "UPL003", decodeError(t, rec).Code)

	// Another client still has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.UnknownEntityError{Name: "X"}, http.StatusNotFound},
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{errFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrEmptySource, http.StatusBadRequest},
		{&core.NoUniqueColumnError{}, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
