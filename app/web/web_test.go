package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/vigil/app/api"
	"github.com/umputun/vigil/app/desk"
	"github.com/umputun/vigil/app/export"
)

type mockDesk struct {
	UploadFunc   func(ctx context.Context, profileID string, files []api.File) (string, error)
	UnitsFunc    func() []desk.UnitView
	UnitFunc     func(displayID string) (desk.UnitView, bool)
	ActiveIDFunc func() string
	ActivateFunc func(displayID string) error
	RenameFunc   func(displayID, label string) error
	EditTextFunc func(displayID, text string) error
	RemoveFunc   func(displayID string) error
}

func (m *mockDesk) Upload(ctx context.Context, profileID string, files []api.File) (string, error) {
	return m.UploadFunc(ctx, profileID, files)
}
func (m *mockDesk) Units() []desk.UnitView                  { return m.UnitsFunc() }
func (m *mockDesk) Unit(id string) (desk.UnitView, bool)    { return m.UnitFunc(id) }
func (m *mockDesk) ActiveID() string                        { return m.ActiveIDFunc() }
func (m *mockDesk) Activate(id string) error                { return m.ActivateFunc(id) }
func (m *mockDesk) Rename(id, label string) error           { return m.RenameFunc(id, label) }
func (m *mockDesk) EditText(id, text string) error          { return m.EditTextFunc(id, text) }
func (m *mockDesk) Remove(id string) error                  { return m.RemoveFunc(id) }

type mockExporter struct {
	SingleFunc func(displayID string, format export.Format) (export.Doc, error)
}

func (m *mockExporter) Single(id string, f export.Format) (export.Doc, error) {
	return m.SingleFunc(id, f)
}

type mockBackend struct {
	DownloadURLFunc func(taskID string) string
	ProfilesFunc    func(ctx context.Context) ([]string, error)
}

func (m *mockBackend) DownloadURL(taskID string) string            { return m.DownloadURLFunc(taskID) }
func (m *mockBackend) Profiles(ctx context.Context) ([]string, error) { return m.ProfilesFunc(ctx) }

func testServer(d *mockDesk, e *mockExporter, b *mockBackend) *httptest.Server {
	uploadLimiter.SetBurst(1000) // keep the per-ip limiter out of the way
	s := &Server{Desk: d, Exporter: e, Backend: b, Version: "test"}
	return httptest.NewServer(s.routes())
}

func TestServer_Ping(t *testing.T) {
	ts := testServer(&mockDesk{}, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestServer_Units(t *testing.T) {
	d := &mockDesk{
		UnitsFunc: func() []desk.UnitView {
			return []desk.UnitView{
				{ID: "t1", Kind: desk.KindPending},
				{ID: "t2_0", Kind: desk.KindResult},
				{ID: "t2_1", Kind: desk.KindResult},
				{ID: "t3", Kind: desk.KindError},
			}
		},
		ActiveIDFunc: func() string { return "t2_0" },
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/units")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res UnitsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Len(t, res.Units, 4)
	assert.Equal(t, "t2_0", res.Active)
	assert.Equal(t, UnitsStats{Total: 4, Pending: 1, Results: 2, Errors: 1}, res.Stats)
}

func TestServer_Unit(t *testing.T) {
	d := &mockDesk{
		UnitFunc: func(id string) (desk.UnitView, bool) {
			if id == "t1_0" {
				return desk.UnitView{ID: "t1_0", Kind: desk.KindResult, Text: "redacted body"}, true
			}
			return desk.UnitView{}, false
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/units/t1_0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var u desk.UnitView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	assert.Equal(t, "redacted body", u.Text)

	resp, err = http.Get(ts.URL + "/api/v1/units/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func multipartBody(t *testing.T, profileID string, files map[string]string) (io.Reader, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("profile_id", profileID))
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.Copy(fw, strings.NewReader(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestServer_Upload(t *testing.T) {
	d := &mockDesk{
		UploadFunc: func(_ context.Context, profileID string, files []api.File) (string, error) {
			assert.Equal(t, "prof-1", profileID)
			require.Len(t, files, 1)
			assert.Equal(t, "a.txt", files[0].Name)
			data, err := io.ReadAll(files[0].Reader)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))
			return "task-1", nil
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	body, contentType := multipartBody(t, "prof-1", map[string]string{"a.txt": "hello"})
	resp, err := http.Post(ts.URL+"/api/v1/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "task-1", res.TaskID)
}

func TestServer_UploadNoInput(t *testing.T) {
	d := &mockDesk{
		UploadFunc: func(context.Context, string, []api.File) (string, error) {
			return "", desk.ErrNoInput
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	body, contentType := multipartBody(t, "", nil)
	resp, err := http.Post(ts.URL+"/api/v1/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_UploadBackendDown(t *testing.T) {
	d := &mockDesk{
		UploadFunc: func(context.Context, string, []api.File) (string, error) {
			return "", errors.New("backend unreachable")
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	body, contentType := multipartBody(t, "prof-1", map[string]string{"a.txt": "x"})
	resp, err := http.Post(ts.URL+"/api/v1/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_Activate(t *testing.T) {
	var activated string
	d := &mockDesk{
		ActivateFunc: func(id string) error {
			if id == "nope" {
				return desk.ErrUnknownUnit
			}
			activated = id
			return nil
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/units/t1_0/activate", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t1_0", activated)

	resp, err = http.Post(ts.URL+"/api/v1/units/nope/activate", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Label(t *testing.T) {
	var gotID, gotLabel string
	d := &mockDesk{
		RenameFunc: func(id, label string) error {
			gotID, gotLabel = id, label
			return nil
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/units/t1_0/label",
		strings.NewReader(`{"label":"My Doc"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t1_0", gotID)
	assert.Equal(t, "My Doc", gotLabel)
}

func TestServer_LabelBadBody(t *testing.T) {
	d := &mockDesk{RenameFunc: func(string, string) error { return nil }}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/units/t1_0/label",
		strings.NewReader(`{broken`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Text(t *testing.T) {
	var gotText string
	d := &mockDesk{
		EditTextFunc: func(_, text string) error {
			gotText = text
			return nil
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/units/t1_0/text",
		strings.NewReader(`{"text":"edited body"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "edited body", gotText)
}

func TestServer_Remove(t *testing.T) {
	var removed string
	d := &mockDesk{
		RemoveFunc: func(id string) error {
			removed = id
			return nil
		},
	}
	ts := testServer(d, &mockExporter{}, &mockBackend{})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/units/t1_0", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t1_0", removed)
}

func TestServer_Export(t *testing.T) {
	e := &mockExporter{
		SingleFunc: func(id string, format export.Format) (export.Doc, error) {
			switch id {
			case "t1_0":
				assert.Equal(t, export.FormatTxt, format)
				return export.Doc{Name: "doc.txt", ContentType: "text/plain; charset=utf-8",
					Data: []byte("redacted body")}, nil
			default:
				return export.Doc{}, desk.ErrUnknownUnit
			}
		},
	}
	ts := testServer(&mockDesk{}, e, &mockBackend{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/units/t1_0/export?format=txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="doc.txt"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "redacted body", string(body))

	resp, err = http.Get(ts.URL + "/api/v1/units/nope/export?format=txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/units/t1_0/export?format=bmp")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Archive(t *testing.T) {
	b := &mockBackend{
		DownloadURLFunc: func(taskID string) string {
			return "http://backend.example.com/download/" + taskID
		},
	}
	ts := testServer(&mockDesk{}, &mockExporter{}, b)
	defer ts.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/api/v1/tasks/task-1/archive")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "http://backend.example.com/download/task-1", resp.Header.Get("Location"))
}

func TestServer_Profiles(t *testing.T) {
	b := &mockBackend{
		ProfilesFunc: func(context.Context) ([]string, error) {
			return []string{"default", "strict"}, nil
		},
	}
	ts := testServer(&mockDesk{}, &mockExporter{}, b)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profiles []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profiles))
	assert.Equal(t, []string{"default", "strict"}, profiles)
}

func TestServer_ProfilesBackendDown(t *testing.T) {
	b := &mockBackend{
		ProfilesFunc: func(context.Context) ([]string, error) {
			return nil, errors.New("backend unreachable")
		},
	}
	ts := testServer(&mockDesk{}, &mockExporter{}, b)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_RunAndShutdown(t *testing.T) {
	s := &Server{Desk: &mockDesk{UnitsFunc: func() []desk.UnitView { return nil },
		ActiveIDFunc: func() string { return "" }}, Exporter: &mockExporter{}, Backend: &mockBackend{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx, "localhost:0") }()

	cancel()
	require.NoError(t, <-done, "graceful shutdown is not an error")
}
