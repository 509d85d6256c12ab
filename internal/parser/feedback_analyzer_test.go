package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"resumind-go/internal/llm"
	"resumind-go/internal/types"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDocumentReader struct {
	mock.Mock
}

func (m *mockDocumentReader) DownloadFile(ctx context.Context, objectPath string) ([]byte, error) {
	args := m.Called(ctx, objectPath)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type stubExtractor struct {
	text string
	err  error
	uri  string
}

func (s *stubExtractor) ExtractTextFromBytes(_ context.Context, _ []byte, uri string) (string, error) {
	s.uri = uri
	return s.text, s.err
}

const uploadedPath = "resumes/uploads/id/cv.pdf"

func TestFeedbackSendsInstructionsAndResumeText(t *testing.T) {
	docs := new(mockDocumentReader)
	docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil).Once()
	extractor := &stubExtractor{text: "  Jane Doe\nGo engineer  "}
	model := llm.NewMockChatClient(`{"overallScore":60}`, nil)

	analyzer := NewLLMFeedbackAnalyzer(docs, extractor, model, 0)
	resp, err := analyzer.Feedback(context.Background(), uploadedPath, "be strict")
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, types.ContentText, resp.Message.Content.Kind)
	text, err := resp.Message.Content.FeedbackText()
	require.NoError(t, err)
	assert.Equal(t, `{"overallScore":60}`, text)
	assert.Equal(t, uploadedPath, extractor.uri)

	calls := model.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, schema.System, calls[0][0].Role)
	assert.Equal(t, "be strict", calls[0][0].Content)
	assert.Equal(t, "Resume:\nJane Doe\nGo engineer", calls[0][1].Content)
	docs.AssertExpectations(t)
}

func TestFeedbackMapsMultiContentToBlocks(t *testing.T) {
	docs := new(mockDocumentReader)
	docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)

	analyzer := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "cv"}, llm.NewMockChatClientParts("first", "second"), 0)
	resp, err := analyzer.Feedback(context.Background(), uploadedPath, "i")
	require.NoError(t, err)
	assert.Equal(t, types.ContentBlocks, resp.Message.Content.Kind)
	text, err := resp.Message.Content.FeedbackText()
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	empty := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "cv"}, llm.NewMockChatClientParts(), 0)
	resp, err = empty.Feedback(context.Background(), uploadedPath, "i")
	require.NoError(t, err)
	_, err = resp.Message.Content.FeedbackText()
	assert.ErrorIs(t, err, types.ErrNoContentBlocks)
}

func TestFeedbackTreatsBlankReplyAsNoFeedback(t *testing.T) {
	docs := new(mockDocumentReader)
	docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)

	for _, content := range []string{"", " \n "} {
		resp, err := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "cv"}, llm.NewMockChatClient(content, nil), 0).
			Feedback(context.Background(), uploadedPath, "i")
		require.NoError(t, err)
		assert.Nil(t, resp, "空回复应视为没有反馈")
	}

	assert.False(t, isEmptyReply(schema.AssistantMessage("", []schema.ToolCall{{ID: "call-1"}})))
	assert.False(t, isEmptyReply(&schema.Message{Role: schema.Assistant, MultiContent: []schema.ChatMessagePart{}}))
}

func TestFeedbackTruncatesLongResume(t *testing.T) {
	docs := new(mockDocumentReader)
	docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)
	model := llm.NewMockChatClient("{}", nil)

	analyzer := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: strings.Repeat("简", 50)}, model, 10)
	_, err := analyzer.Feedback(context.Background(), uploadedPath, "i")
	require.NoError(t, err)
	assert.Equal(t, "Resume:\n"+strings.Repeat("简", 10), model.Calls()[0][1].Content)
}

func TestFeedbackErrors(t *testing.T) {
	t.Run("download", func(t *testing.T) {
		docs := new(mockDocumentReader)
		docs.On("DownloadFile", mock.Anything, uploadedPath).Return(nil, errors.New("no such key"))
		model := llm.NewMockChatClient("{}", nil)
		_, err := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "cv"}, model, 0).Feedback(context.Background(), uploadedPath, "i")
		assert.Error(t, err)
		assert.Empty(t, model.Calls(), "读取失败时不应调用模型")
	})

	t.Run("empty text", func(t *testing.T) {
		docs := new(mockDocumentReader)
		docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)
		_, err := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "  \n"}, llm.NewMockChatClient("{}", nil), 0).Feedback(context.Background(), uploadedPath, "i")
		assert.ErrorIs(t, err, ErrEmptyResumeText)
	})

	t.Run("extract", func(t *testing.T) {
		docs := new(mockDocumentReader)
		docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)
		_, err := NewLLMFeedbackAnalyzer(docs, &stubExtractor{err: errors.New("bad pdf")}, llm.NewMockChatClient("{}", nil), 0).Feedback(context.Background(), uploadedPath, "i")
		assert.Error(t, err)
	})

	t.Run("model", func(t *testing.T) {
		docs := new(mockDocumentReader)
		docs.On("DownloadFile", mock.Anything, uploadedPath).Return([]byte("%PDF"), nil)
		_, err := NewLLMFeedbackAnalyzer(docs, &stubExtractor{text: "cv"}, llm.NewMockChatClient("", errors.New("quota")), 0).Feedback(context.Background(), uploadedPath, "i")
		assert.ErrorContains(t, err, "quota")
	})
}

func TestPrepareInstructions(t *testing.T) {
	got := PrepareInstructions(" Backend Engineer ", "Go, Redis")
	assert.Contains(t, got, "The job title is: Backend Engineer\n")
	assert.Contains(t, got, "The job description is: Go, Redis\n")
	assert.Contains(t, got, FeedbackFormat)
	assert.Contains(t, got, "without the backticks")

	empty := PrepareInstructions("", "")
	assert.Contains(t, empty, "The job title is: \n")
}
