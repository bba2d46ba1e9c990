package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/internal/automation/studio"
	"seevideo/automation/internal/models"
	"seevideo/automation/internal/progress"
	"seevideo/automation/internal/services"
	"seevideo/automation/pkg/chrome"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	result *jimeng.GenerateResult
	err    error
	opts   jimeng.Options

	list      *jimeng.AssetListData
	listErr   error
	listCount int
}

func (f *fakeGenerator) Generate(_ context.Context, opts jimeng.Options) (*jimeng.GenerateResult, error) {
	f.opts = opts
	return f.result, f.err
}

func (f *fakeGenerator) FetchAssetList(_ context.Context, count int) (*jimeng.AssetListData, error) {
	f.listCount = count
	return f.list, f.listErr
}

type fakeBuilder struct {
	result *studio.BuildResult
	err    error
}

func (f *fakeBuilder) Build(context.Context, studio.BuildRequest) (*studio.BuildResult, error) {
	return f.result, f.err
}

type fakeStore struct {
	mutex    sync.Mutex
	attached map[string]string
	failure  services.FailureUpdate
	result   *services.FailureResult
	err      error
	rows     map[string]*models.VideoGeneration
}

func (f *fakeStore) HandleGenerationFailure(_ context.Context, upd services.FailureUpdate) (*services.FailureResult, error) {
	f.failure = upd
	return f.result, f.err
}

func (f *fakeStore) AttachGenerateID(_ context.Context, projectID, generateID string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[projectID] = generateID
	return true, nil
}

func (f *fakeStore) FindByGenerateID(_ context.Context, generateID string) (*models.VideoGeneration, error) {
	if row, ok := f.rows[generateID]; ok {
		return row, nil
	}
	return nil, services.ErrRecordNotFound
}

type fakeProcessor struct {
	mutex     sync.Mutex
	assets    []jimeng.Asset
	projectID string
}

func (f *fakeProcessor) Process(_ context.Context, assets []jimeng.Asset, projectID string) []services.AssetResult {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.assets = assets
	f.projectID = projectID
	return nil
}

type fakeBrowser struct{}

func (fakeBrowser) Status() chrome.Status { return chrome.Status{Running: true, ActivePages: 1} }

type fixture struct {
	gen       *fakeGenerator
	builder   *fakeBuilder
	store     *fakeStore
	processor *fakeProcessor
	hub       *progress.Hub
	handler   *Handler
	router    *gin.Engine
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		gen:       &fakeGenerator{},
		builder:   &fakeBuilder{},
		store:     &fakeStore{},
		processor: &fakeProcessor{},
		hub:       progress.NewHub(),
	}
	f.handler = NewHandler(context.Background(), Dependencies{
		Generator: f.gen,
		Builder:   f.builder,
		Store:     f.store,
		Processor: f.processor,
		Browser:   fakeBrowser{},
		Hub:       f.hub,
	})
	r := gin.New()
	r.POST("/api/generate", f.handler.Generate)
	r.GET("/api/get_asset_list", f.handler.GetAssetList)
	r.POST("/api/generation_failed", f.handler.GenerationFailed)
	r.GET("/api/generations/:generateId", f.handler.GetGeneration)
	r.POST("/api/build_app", f.handler.BuildApp)
	r.GET("/api/health", f.handler.HealthCheck)
	r.GET("/api/ws/progress", f.handler.ProgressWebSocket)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestGenerateSuccess(t *testing.T) {
	f := newFixture()
	f.gen.result = &jimeng.GenerateResult{Success: true, GenerateID: "gen-1"}

	code, body := f.do(t, http.MethodPost, "/api/generate", gin.H{
		"projectId": "p-1",
		"prompt":    "a cat",
		"frameMode": "first_last",
		"ratio":     "16:9",
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Opened Jimeng video page", body["message"])
	assert.Equal(t, "p-1", body["projectId"])
	assert.Equal(t, "gen-1", body["generateId"])
	assert.Equal(t, "a cat", f.gen.opts.Prompt)
	assert.Equal(t, "gen-1", f.store.attached["p-1"])
}

func TestGenerateWithoutGenerateIDOmitsIt(t *testing.T) {
	f := newFixture()
	f.gen.result = &jimeng.GenerateResult{Success: true}

	code, body := f.do(t, http.MethodPost, "/api/generate", gin.H{"prompt": "x"})
	assert.Equal(t, http.StatusOK, code)
	_, present := body["generateId"]
	assert.False(t, present)
	assert.Empty(t, f.store.attached)
}

func TestGenerateBusinessFailure(t *testing.T) {
	f := newFixture()
	f.gen.result = &jimeng.GenerateResult{Success: false, Error: "upload failed: image too small"}

	code, body := f.do(t, http.MethodPost, "/api/generate", gin.H{"prompt": "x"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "upload failed: image too small", body["error"])
}

func TestGenerateSystemFailure(t *testing.T) {
	f := newFixture()
	f.gen.err = errors.New("timed out waiting for selector: textarea")

	code, body := f.do(t, http.MethodPost, "/api/generate", gin.H{"prompt": "x"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "timed out")
}

func TestGenerateRejectsUnknownFrameMode(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodPost, "/api/generate", gin.H{"frameMode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown frame mode")
}

func TestGetAssetListProcessesInBackground(t *testing.T) {
	f := newFixture()
	data, err := jimeng.ParseAssetListResponse([]byte(`{"ret":"0","data":{"has_more":false,"asset_list":[
		{"id":"a","video":{"generate_id":"g-1"}},
		{"id":"b","type":1}
	]}}`))
	require.NoError(t, err)
	f.gen.list = data

	code, body := f.do(t, http.MethodGet, "/api/get_asset_list?projectId=p-9", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	list := body["data"].(map[string]interface{})["asset_list"].([]interface{})
	assert.Len(t, list, 2)
	assert.Equal(t, 500, f.gen.listCount)

	f.handler.Wait()
	f.processor.mutex.Lock()
	defer f.processor.mutex.Unlock()
	require.Len(t, f.processor.assets, 1)
	assert.Equal(t, "g-1", f.processor.assets[0].GenerateID())
	assert.Equal(t, "p-9", f.processor.projectID)
}

func TestGetAssetListCount(t *testing.T) {
	f := newFixture()
	f.gen.listErr = jimeng.ErrAssetListMissing

	code, body := f.do(t, http.MethodGet, "/api/get_asset_list?count=20", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to fetch video list", body["error"])
	assert.Equal(t, 20, f.gen.listCount)

	code, _ = f.do(t, http.MethodGet, "/api/get_asset_list?count=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGenerationFailed(t *testing.T) {
	f := newFixture()
	f.store.result = &services.FailureResult{Success: true, Refunded: true}

	code, body := f.do(t, http.MethodPost, "/api/generation_failed", gin.H{
		"generateId": "g-1",
		"errormsg":   "content rejected",
		"coverUrl":   "https://cdn.test/c.jpg",
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["refunded"])
	assert.Equal(t, "content rejected", f.store.failure.ErrorMsg)
	assert.Nil(t, f.store.failure.VideoURL)
	require.NotNil(t, f.store.failure.CoverURL)
	assert.Equal(t, "https://cdn.test/c.jpg", *f.store.failure.CoverURL)
}

func TestGenerationFailedRequiresGenerateID(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodPost, "/api/generation_failed", gin.H{"errormsg": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
}

func TestGenerationFailedUnknownRecord(t *testing.T) {
	f := newFixture()
	f.store.result = &services.FailureResult{Success: false, Error: "record not found"}

	code, body := f.do(t, http.MethodPost, "/api/generation_failed", gin.H{"generateId": "nope"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "record not found", body["error"])
}

func TestGetGeneration(t *testing.T) {
	f := newFixture()
	id := "g-1"
	f.store.rows = map[string]*models.VideoGeneration{
		id: {ID: "p-1", GenerateID: &id, Status: models.StatusCompleted},
	}

	code, body := f.do(t, http.MethodGet, "/api/generations/g-1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", body["data"].(map[string]interface{})["status"])

	code, _ = f.do(t, http.MethodGet, "/api/generations/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBuildApp(t *testing.T) {
	f := newFixture()
	f.builder.result = &studio.BuildResult{Success: false, ProjectID: "p-1", Error: "AI Studio Error: quota exceeded"}

	code, body := f.do(t, http.MethodPost, "/api/build_app", gin.H{"projectId": "p-1", "prompt": "todo app"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "AI Studio Error: quota exceeded", body["error"])

	code, _ = f.do(t, http.MethodPost, "/api/build_app", gin.H{"projectId": "p-1"})
	assert.Equal(t, http.StatusBadRequest, code)

	f.builder.result, f.builder.err = nil, studio.ErrInvalidProjectID
	code, _ = f.do(t, http.MethodPost, "/api/build_app", gin.H{"projectId": "../x", "prompt": "p"})
	assert.Equal(t, http.StatusBadRequest, code)

	f.builder.err = errors.New("browser gone")
	code, _ = f.do(t, http.MethodPost, "/api/build_app", gin.H{"projectId": "p-1", "prompt": "p"})
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	browser := body["browser"].(map[string]interface{})
	assert.Equal(t, true, browser["running"])
}

func TestProgressWebSocket(t *testing.T) {
	f := newFixture()
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + server.URL[len("http"):] + "/api/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Reporter("generate", "p-1").Step("navigate")

	var ev progress.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "generate", ev.Operation)
	assert.Equal(t, "p-1", ev.ProjectID)
	assert.Equal(t, "navigate", ev.Step)
	assert.Equal(t, progress.StatusRunning, ev.Status)
}
