package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"resumind-go/internal/api/handler"
	"resumind-go/internal/api/middleware"
	"resumind-go/internal/api/router"
	"resumind-go/internal/config"
	"resumind-go/internal/processor"
	"resumind-go/internal/storage"
	"resumind-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSession = "session-a"
	tokenHeader = "X-Session-Token"
)

type memFiles struct {
	mu      sync.Mutex
	uploads []string
}

func (m *memFiles) Upload(_ context.Context, file *types.CandidateFile) (*types.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := "resumes/uploads/" + file.Name
	m.uploads = append(m.uploads, p)
	return &types.UploadResult{Path: p}, nil
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

type fixedAnalyzer struct{ text string }

func (a fixedAnalyzer) Feedback(context.Context, string, string) (*types.AIResponse, error) {
	return &types.AIResponse{Message: types.AIMessage{Role: "assistant", Content: types.TextContent(a.text)}}, nil
}

// gatedAnalyzer 在 release 关闭前阻塞
type gatedAnalyzer struct{ release chan struct{} }

func (a gatedAnalyzer) Feedback(ctx context.Context, _, _ string) (*types.AIResponse, error) {
	select {
	case <-a.release:
		return &types.AIResponse{Message: types.AIMessage{Role: "assistant", Content: types.TextContent(`{"overallScore":1}`)}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type pngConverter struct{}

func (pngConverter) Convert(_ context.Context, file *types.CandidateFile) (*types.ConversionResult, error) {
	return &types.ConversionResult{File: &types.CandidateFile{Name: "cv.png", MIMEType: "image/png", Data: []byte("png"), Size: 3}}, nil
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

type mockRecords struct{ mock.Mock }

func (m *mockRecords) GetRecord(ctx context.Context, id string) (*types.ResumeRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*types.ResumeRecord)
	return rec, args.Error(1)
}

func (m *mockRecords) ListRecords(ctx context.Context, page, pageSize int) ([]types.ResumeSummary, int, error) {
	args := m.Called(ctx, page, pageSize)
	items, _ := args.Get(0).([]types.ResumeSummary)
	return items, args.Int(1), args.Error(2)
}

type mockFiles struct{ mock.Mock }

func (m *mockFiles) Open(ctx context.Context, objectPath string) (io.ReadCloser, *storage.ObjectInfo, error) {
	args := m.Called(ctx, objectPath)
	rc, _ := args.Get(0).(io.ReadCloser)
	info, _ := args.Get(1).(*storage.ObjectInfo)
	return rc, info, args.Error(2)
}

type testEnv struct {
	h       *server.Hertz
	handler *handler.ResumeHandler
	kv      *memKV
	files   *memFiles
	locks   *processor.LocalRunLocker
	records *mockRecords
	objects *mockFiles
	done    chan error
}

func newTestEnv(t *testing.T, opts ...handler.HandlerOption) *testEnv {
	t.Helper()
	return newTestEnvWithAnalyzer(t, fixedAnalyzer{text: "```json\n{\"overallScore\":80}\n```"}, opts...)
}

func newTestEnvWithAnalyzer(t *testing.T, analyzer processor.FeedbackAnalyzer, opts ...handler.HandlerOption) *testEnv {
	t.Helper()
	env := &testEnv{
		kv:      &memKV{data: map[string]string{}},
		files:   &memFiles{},
		locks:   processor.NewLocalRunLocker(),
		records: new(mockRecords),
		objects: new(mockFiles),
		done:    make(chan error, 4),
	}
	pipeline, err := processor.NewResumePipeline(processor.Capabilities{
		Files:        env.files,
		KV:           env.kv,
		Analyzer:     analyzer,
		Converter:    pngConverter{},
		IDs:          fixedID("id-1"),
		Locks:        env.locks,
		Statuses:     processor.NewStatusBoard(),
		Instructions: func(title, desc string) string { return title + "|" + desc },
	})
	require.NoError(t, err)

	opts = append([]handler.HandlerOption{
		handler.WithRunTimeout(5*time.Second),
		handler.WithRunCallback(func(_ *processor.Result, err error) { env.done <- err }),
	}, opts...)
	env.handler = handler.NewResumeHandler(pipeline, env.records, env.objects, opts...)
	env.h = server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(env.h, env.handler, middleware.SessionAuth(config.AuthConfig{SessionHeader: tokenHeader}))
	return env
}

func (e *testEnv) waitRun(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("后台运行未在超时内结束")
		return nil
	}
}

func multipartBody(t *testing.T, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if fileName != "" {
		part, err := writer.CreateFormFile(handler.FormFieldFile, fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (e *testEnv) postResume(t *testing.T, session, fileName string, content []byte) *ut.ResponseRecorder {
	body, contentType := multipartBody(t, fileName, content, map[string]string{
		handler.FormFieldCompanyName:    "Acme",
		handler.FormFieldJobTitle:       "Backend Engineer",
		handler.FormFieldJobDescription: "Go",
	})
	headers := []ut.Header{{Key: "Content-Type", Value: contentType}}
	if session != "" {
		headers = append(headers, ut.Header{Key: tokenHeader, Value: session})
	}
	return ut.PerformRequest(e.h.Engine, http.MethodPost, "/api/v1/resumes", &ut.Body{Body: body, Len: body.Len()}, headers...)
}

func (e *testEnv) get(url string) *ut.ResponseRecorder {
	return ut.PerformRequest(e.h.Engine, http.MethodGet, url, nil, ut.Header{Key: tokenHeader, Value: testSession})
}

func TestHandleAnalyzeRunsPipelineInBackground(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postResume(t, testSession, "cv.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var accepted handler.AnalyzeResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &accepted))
	assert.Equal(t, testSession, accepted.SessionID)

	require.NoError(t, env.waitRun(t))

	raw, ok := env.kv.get("resume:id-1")
	require.True(t, ok)
	var record types.ResumeRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, "resumes/uploads/cv.pdf", record.ResumePath)
	assert.Equal(t, "resumes/uploads/cv.png", record.ImagePath)
	assert.Equal(t, "Acme", record.CompanyName)
	assert.JSONEq(t, `{"overallScore":80}`, string(record.Feedback))

	statusResp := env.get("/api/v1/resumes/status")
	require.Equal(t, http.StatusOK, statusResp.Code)
	var status handler.StatusResponse
	require.NoError(t, json.Unmarshal(statusResp.Body.Bytes(), &status))
	assert.True(t, status.Started)
	assert.False(t, status.Processing)
	assert.Equal(t, processor.StageComplete, status.Status.Stage)
	assert.Equal(t, "/resume/id-1", status.Status.RedirectPath)
	assert.False(t, env.locks.Held(testSession), "运行结束后应释放会话锁")
}

func TestHandleAnalyzeRejectsInvalidFile(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postResume(t, testSession, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.postResume(t, testSession, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	env.files.mu.Lock()
	assert.Empty(t, env.files.uploads, "被拒绝的文件不应触发上传")
	env.files.mu.Unlock()

	statusResp := env.get("/api/v1/resumes/status")
	var status handler.StatusResponse
	require.NoError(t, json.Unmarshal(statusResp.Body.Bytes(), &status))
	assert.False(t, status.Started)
	assert.Equal(t, processor.StageIdle, status.Status.Stage)
}

func TestHandleAnalyzeConflictsWhileRunHeld(t *testing.T) {
	env := newTestEnv(t)

	release, err := env.locks.Acquire(context.Background(), testSession)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	resp := env.postResume(t, testSession, "cv.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusConflict, resp.Code)

	// 其他会话不受影响
	resp = env.postResume(t, "session-b", "cv.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusAccepted, resp.Code)
	require.NoError(t, env.waitRun(t))
}

func TestRoutesRequireSessionToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postResume(t, "", "cv.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(env.h.Engine, http.MethodGet, "/api/v1/resumes/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(env.h.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestHandleGetResume(t *testing.T) {
	env := newTestEnv(t)
	env.records.On("GetRecord", mock.Anything, "id-1").Return(&types.ResumeRecord{
		ID:       "id-1",
		JobTitle: "Backend Engineer",
		Feedback: types.EmptyFeedback,
	}, nil)
	env.records.On("GetRecord", mock.Anything, "missing").Return(nil, storage.ErrRecordNotFound)
	env.records.On("GetRecord", mock.Anything, "broken").Return(nil, errors.New("connection refused"))

	resp := env.get("/api/v1/resumes/id-1")
	require.Equal(t, http.StatusOK, resp.Code)
	var record types.ResumeRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &record))
	assert.Equal(t, "Backend Engineer", record.JobTitle)
	assert.False(t, record.Analyzed())

	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/resumes/missing").Code)
	assert.Equal(t, http.StatusInternalServerError, env.get("/api/v1/resumes/broken").Code)
	env.records.AssertExpectations(t)
}

func TestHandleListResumes(t *testing.T) {
	env := newTestEnv(t)
	score := 75
	env.records.On("ListRecords", mock.Anything, 2, 5).Return([]types.ResumeSummary{
		{ID: "a", Analyzed: true, OverallScore: &score},
	}, 6, nil).Once()
	env.records.On("ListRecords", mock.Anything, 1, 10).Return(nil, 0, nil).Once()

	resp := env.get("/api/v1/resumes?page=2&page_size=5")
	require.Equal(t, http.StatusOK, resp.Code)
	var list handler.ListResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Equal(t, 6, list.Total)
	assert.Equal(t, 2, list.Page)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 75, *list.Items[0].OverallScore)

	// 非法参数回退为默认分页
	resp = env.get("/api/v1/resumes?page=-1&page_size=1000")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"items":[],"total":0,"page":1,"page_size":10}`, resp.Body.String())
	env.records.AssertExpectations(t)
}

func TestHandleDownloadFile(t *testing.T) {
	env := newTestEnv(t)
	env.objects.On("Open", mock.Anything, "resumes/uploads/x/cv.png").Return(
		io.NopCloser(strings.NewReader("PNGDATA")),
		&storage.ObjectInfo{Size: 7, ContentType: "image/png", Name: "cv.png"},
		nil,
	)
	env.objects.On("Open", mock.Anything, "other/x.png").Return(nil, nil, storage.ErrInvalidObjectPath)
	env.objects.On("Open", mock.Anything, "resumes/uploads/x/gone.pdf").Return(nil, nil, storage.ErrObjectNotFound)

	resp := env.get("/api/v1/files/resumes/uploads/x/cv.png")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "PNGDATA", resp.Body.String())
	assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, env.get("/api/v1/files/other/x.png").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/files/resumes/uploads/x/gone.pdf").Code)
}

func TestWaitBlocksUntilBackgroundRunsFinish(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnvWithAnalyzer(t, gatedAnalyzer{release: release})

	resp := env.postResume(t, testSession, "cv.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.handler.Wait(short), context.DeadlineExceeded, "运行未结束时应按 ctx 超时返回")

	close(release)
	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, env.handler.Wait(ctx))

	// Wait 返回时运行已落库并释放锁
	_, ok := env.kv.get("resume:id-1")
	assert.True(t, ok)
	assert.False(t, env.locks.Held(testSession))
	require.NoError(t, env.waitRun(t))
}

func TestHealthPingsDependencies(t *testing.T) {
	env := newTestEnv(t, handler.WithHealthCheck(pingFunc(func(context.Context) error {
		return errors.New("redis down")
	})))
	resp := ut.PerformRequest(env.h.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	env = newTestEnv(t, handler.WithHealthCheck(pingFunc(func(context.Context) error { return nil })))
	resp = ut.PerformRequest(env.h.Engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}
