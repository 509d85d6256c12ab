package processor

import (
	"context"
	"errors"
	"sync"

	"resumind-go/internal/types"
)

// 记录所有外部调用的顺序，便于断言阶段先后
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeFileStore struct {
	log      *callLog
	failOn   map[string]bool
	emptyOn  map[string]bool
	uploaded []*types.CandidateFile
}

func (f *fakeFileStore) Upload(_ context.Context, file *types.CandidateFile) (*types.UploadResult, error) {
	f.log.add("upload:" + file.Name)
	f.uploaded = append(f.uploaded, file)
	if f.failOn[file.Name] {
		return nil, errors.New("storage unavailable")
	}
	if f.emptyOn[file.Name] {
		return &types.UploadResult{}, nil
	}
	return &types.UploadResult{Path: "resumes/" + file.Name}, nil
}

type fakeKV struct {
	log     *callLog
	mu      sync.Mutex
	data    map[string]string
	writes  []string
	failAt  map[int]bool
	counter int
}

func newFakeKV(log *callLog) *fakeKV {
	return &fakeKV{log: log, data: make(map[string]string), failAt: make(map[int]bool)}
}

func (k *fakeKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.counter++
	k.log.add("kv:set")
	if k.failAt[k.counter] {
		return errors.New("kv unavailable")
	}
	k.data[key] = value
	k.writes = append(k.writes, value)
	return nil
}

type fakeConverter struct {
	log     *callLog
	noImage bool
	err     error
	input   *types.CandidateFile
}

func (c *fakeConverter) Convert(_ context.Context, file *types.CandidateFile) (*types.ConversionResult, error) {
	c.log.add("convert")
	c.input = file
	if c.err != nil {
		return nil, c.err
	}
	if c.noImage {
		return &types.ConversionResult{}, nil
	}
	return &types.ConversionResult{File: &types.CandidateFile{
		Name:     "resume.png",
		MIMEType: "image/png",
		Size:     3,
		Data:     []byte{1, 2, 3},
	}}, nil
}

type fakeAnalyzer struct {
	log          *callLog
	resp         *types.AIResponse
	err          error
	documentPath string
	instructions string
}

func (a *fakeAnalyzer) Feedback(_ context.Context, documentPath, instructions string) (*types.AIResponse, error) {
	a.log.add("ai:feedback")
	a.documentPath = documentPath
	a.instructions = instructions
	return a.resp, a.err
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func textResponse(text string) *types.AIResponse {
	return &types.AIResponse{Message: types.AIMessage{Role: "assistant", Content: types.TextContent(text)}}
}

const sampleFeedback = `{"overallScore":82,"ATS":{"score":75,"tips":[{"type":"good","tip":"clear headings"}]}}`

type harness struct {
	log       *callLog
	files     *fakeFileStore
	kv        *fakeKV
	converter *fakeConverter
	analyzer  *fakeAnalyzer
	locks     *LocalRunLocker
	statuses  *StatusBoard
	ids       fixedIDs
}

func newHarness() *harness {
	log := &callLog{}
	return &harness{
		log:       log,
		files:     &fakeFileStore{log: log, failOn: map[string]bool{}, emptyOn: map[string]bool{}},
		kv:        newFakeKV(log),
		converter: &fakeConverter{log: log},
		analyzer:  &fakeAnalyzer{log: log, resp: textResponse(sampleFeedback)},
		locks:     NewLocalRunLocker(),
		statuses:  NewStatusBoard(),
		ids:       fixedIDs{id: "11111111-2222-3333-4444-555555555555"},
	}
}

func (h *harness) caps() Capabilities {
	return Capabilities{
		Files:     h.files,
		KV:        h.kv,
		Analyzer:  h.analyzer,
		Converter: h.converter,
		IDs:       h.ids,
		Locks:     h.locks,
		Statuses:  h.statuses,
		Instructions: func(jobTitle, jobDescription string) string {
			return "title=" + jobTitle + ";desc=" + jobDescription
		},
	}
}

func pdfFile(name string, size int64) *types.CandidateFile {
	return &types.CandidateFile{Name: name, Size: size, MIMEType: "application/pdf", Data: []byte("%PDF-1.4")}
}

func validRequest() AnalyzeRequest {
	return AnalyzeRequest{
		Files:          []*types.CandidateFile{pdfFile("resume.pdf", 2*1024*1024)},
		CompanyName:    "Acme",
		JobTitle:       "Engineer",
		JobDescription: "Build reliable services",
	}
}
