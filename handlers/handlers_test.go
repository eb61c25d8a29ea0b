package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"satlegal-backend/metrics"
	"satlegal-backend/models"
	"satlegal-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func perform(t *testing.T, rt Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	r := gin.New()
	rt.Register(r)
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

type fakeBuilder struct {
	result *models.GenerationResult
	err    error
	got    service.BuildArgumentsRequest
}

func (f *fakeBuilder) BuildArguments(_ context.Context, req service.BuildArgumentsRequest, obs service.Observer) (*models.GenerationResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	for _, step := range f.result.Steps {
		if obs.OnDelta != nil {
			obs.OnDelta(step.Name, step.Text)
		}
		if obs.OnStep != nil {
			obs.OnStep(step)
		}
	}
	return f.result, nil
}

type fakeArchiver struct {
	calls int
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, req service.ArchiveRequest) (*models.ArgumentReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.ArgumentReport{ID: uuid.New(), CaseTitle: req.CaseTitle}, nil
}

func sampleResult() *models.GenerationResult {
	return &models.GenerationResult{
		FinalText:   "Final arguments",
		Mode:        models.ModeMultiStep,
		ParseStatus: models.ParseComplete,
		Steps: []models.ReasoningStepOutput{
			{Index: 1, Name: "Analyse Facts", Text: "facts"},
			{Index: 2, Name: "Draft Arguments", Text: "Final arguments"},
		},
		RelatedCases: models.RelatedCases{{CaseID: 1, Title: "Smith and City of Perth", Similarity: 0.91}},
	}
}

func TestBuildArguments(t *testing.T) {
	builder := &fakeBuilder{result: sampleResult()}
	archiver := &fakeArchiver{}
	rt := Router{Arguments: NewArgumentHandler(builder, archiver, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments", gin.H{
		"case_content":    "The applicant seeks review of a development refusal.",
		"case_title":      "Smith v Perth",
		"use_single_call": true,
		"archive":         true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if !env.Success {
		t.Fatalf("success = false: %s", w.Body.String())
	}

	var data struct {
		RawContent string  `json:"raw_content"`
		ReportID   *string `json:"report_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.RawContent != "Final arguments" {
		t.Errorf("raw_content = %q", data.RawContent)
	}
	if data.ReportID == nil {
		t.Error("report_id missing after archive")
	}
	if !builder.got.UseSingleCall || builder.got.CaseTitle != "Smith v Perth" {
		t.Errorf("request not forwarded: %+v", builder.got)
	}
	if archiver.calls != 1 {
		t.Errorf("archive calls = %d, want 1", archiver.calls)
	}
}

func TestBuildArgumentsArchiveFailureIgnored(t *testing.T) {
	archiver := &fakeArchiver{err: models.ErrStoreUnavailable}
	rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{result: sampleResult()}, archiver, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments", gin.H{
		"case_content": "facts",
		"archive":      true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), "report_id") {
		t.Errorf("unexpected report_id in %s", w.Body.String())
	}
}

func TestBuildArgumentsErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     gin.H
		err      error
		wantCode int
		wantErr  string
	}{
		{"missing content", gin.H{"case_title": "x"}, nil, http.StatusBadRequest, models.CodeInvalidInput},
		{"bad conversation", gin.H{"case_content": "x", "conversation_id": "nope"}, nil, http.StatusBadRequest, models.CodeInvalidInput},
		{"embedding", gin.H{"case_content": "x"}, fmt.Errorf("embed: %w", models.ErrEmbeddingFailure), http.StatusBadGateway, models.CodeEmbeddingFailure},
		{"store", gin.H{"case_content": "x"}, fmt.Errorf("search: %w", models.ErrStoreUnavailable), http.StatusServiceUnavailable, models.CodeStoreUnavailable},
		{"generation", gin.H{"case_content": "x"}, fmt.Errorf("step 1: %w", models.ErrGenerationFailure), http.StatusBadGateway, models.CodeGenerationFailure},
		{"cancelled", gin.H{"case_content": "x"}, &service.IncompleteError{Err: context.Canceled}, statusClientClosedRequest, models.CodeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{err: tt.err, result: sampleResult()}, nil, nil, nil)}
			w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if env := decode(t, w); env.Success || env.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantErr)
			}
		})
	}
}

func TestStreamArguments(t *testing.T) {
	rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{result: sampleResult()}, nil, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments/stream", gin.H{"case_content": "facts"})
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("content type = %q", got)
	}
	body := w.Body.String()
	delta := strings.Index(body, "event:delta")
	step := strings.Index(body, "event:step")
	result := strings.Index(body, "event:result")
	if delta < 0 || step < 0 || result < 0 {
		t.Fatalf("missing events in %s", body)
	}
	if !(delta < step && step < result) {
		t.Errorf("events out of order in %s", body)
	}
	if strings.Count(body, "event:step") != 2 {
		t.Errorf("step events = %d, want 2", strings.Count(body, "event:step"))
	}
}

func TestStreamArgumentsErrorEvent(t *testing.T) {
	err := fmt.Errorf("step 2 (Draft Arguments): %w", models.ErrGenerationFailure)
	rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{err: err}, nil, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments/stream", gin.H{"case_content": "facts"})
	body := w.Body.String()
	if !strings.Contains(body, "event:error") || !strings.Contains(body, models.CodeGenerationFailure) {
		t.Errorf("expected error event, got %s", body)
	}
	if strings.Contains(body, "event:result") {
		t.Errorf("unexpected result event in %s", body)
	}
}

func TestBuildArgumentsRecordsConversation(t *testing.T) {
	convs := &fakeConversations{}
	rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{result: sampleResult()}, nil, convs, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments", gin.H{
		"case_content": "The applicant seeks review of a development refusal.",
		"case_title":   "Smith v Perth",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ConversationID == "" || data.ConversationID != convs.conv.ID.String() {
		t.Errorf("conversation_id = %q, want %s", data.ConversationID, convs.conv.ID)
	}
	if convs.conv.Title != "Smith v Perth" {
		t.Errorf("conversation title = %q", convs.conv.Title)
	}
	if len(convs.recorded) != 1 {
		t.Fatalf("recorded = %d turns, want 1", len(convs.recorded))
	}
	turn := convs.recorded[0]
	if turn.Answer != "Final arguments" || len(turn.RelatedCases) != 1 || turn.RelatedCases[0].CaseID != 1 {
		t.Errorf("recorded turn = %+v", turn)
	}
	if !strings.Contains(turn.Question, "development refusal") {
		t.Errorf("question = %q", turn.Question)
	}
}

func TestStreamArgumentsContinuesConversation(t *testing.T) {
	id := uuid.New()
	convs := &fakeConversations{}
	rt := Router{Arguments: NewArgumentHandler(&fakeBuilder{result: sampleResult()}, nil, convs, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments/stream", gin.H{
		"case_content":    "facts",
		"conversation_id": id.String(),
	})
	body := w.Body.String()
	result := strings.Index(body, "event:result")
	if result < 0 {
		t.Fatalf("missing result event in %s", body)
	}
	if !strings.Contains(body[result:], `"conversation_id":"`+id.String()+`"`) {
		t.Errorf("result event lacks conversation_id %s: %s", id, body[result:])
	}
	if len(convs.recorded) != 1 || convs.recorded[0].ConversationID != id {
		t.Errorf("recorded = %+v", convs.recorded)
	}
}

func TestBuildArgumentsUnknownConversation(t *testing.T) {
	builder := &fakeBuilder{result: sampleResult()}
	rt := Router{Arguments: NewArgumentHandler(builder, nil, &fakeConversations{missing: true}, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/build-arguments", gin.H{
		"case_content":    "facts",
		"conversation_id": uuid.NewString(),
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if builder.got.CaseContent != "" {
		t.Errorf("builder should not run for an unknown conversation")
	}
}

type fakeChatter struct {
	result *service.ChatResult
	err    error
	got    service.ChatRequest
}

func (f *fakeChatter) Chat(_ context.Context, req service.ChatRequest, onDelta func(string)) (*service.ChatResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if onDelta != nil {
		onDelta(f.result.Answer)
	}
	return f.result, nil
}

type fakeConversations struct {
	conv     models.Conversation
	history  []models.Message
	recorded []service.RecordTurnRequest
	missing  bool
}

func (f *fakeConversations) Resolve(_ context.Context, id *uuid.UUID, firstMessage string) (*models.Conversation, error) {
	if id != nil {
		if f.missing {
			return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		f.conv.ID = *id
		return &f.conv, nil
	}
	f.conv = models.Conversation{ID: uuid.New(), Title: firstMessage}
	return &f.conv, nil
}

func (f *fakeConversations) History(_ context.Context, id uuid.UUID, limit int) ([]models.Message, error) {
	if f.missing {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if len(f.history) > limit {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

func (f *fakeConversations) RecordTurn(_ context.Context, req service.RecordTurnRequest) error {
	f.recorded = append(f.recorded, req)
	return nil
}

func TestChatStartsConversation(t *testing.T) {
	chat := &fakeChatter{result: &service.ChatResult{Answer: "The tribunal affirmed the refusal."}}
	convs := &fakeConversations{}
	rt := Router{Chat: NewChatHandler(chat, convs, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/chat", gin.H{"message": "What happened in Smith?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Response != "The tribunal affirmed the refusal." {
		t.Errorf("response = %q", data.Response)
	}
	if data.ConversationID != convs.conv.ID.String() {
		t.Errorf("conversation_id = %q, want %s", data.ConversationID, convs.conv.ID)
	}
	if len(convs.recorded) != 1 || convs.recorded[0].Answer != data.Response {
		t.Errorf("recorded = %+v", convs.recorded)
	}
	if chat.got.History != nil {
		t.Errorf("new conversation should have no history, got %d", len(chat.got.History))
	}
}

func TestChatLoadsHistory(t *testing.T) {
	id := uuid.New()
	history := make([]models.Message, 15)
	for i := range history {
		history[i] = models.Message{Role: models.RoleUser, Content: fmt.Sprintf("message %d", i)}
	}
	chat := &fakeChatter{result: &service.ChatResult{Answer: "ok"}}
	convs := &fakeConversations{history: history}
	rt := Router{Chat: NewChatHandler(chat, convs, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/chat", gin.H{"message": "and then?", "conversation_id": id.String()})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(chat.got.History) != historyLimit {
		t.Errorf("history = %d, want %d", len(chat.got.History), historyLimit)
	}
	if chat.got.History[historyLimit-1].Content != "message 14" {
		t.Errorf("latest history = %q", chat.got.History[historyLimit-1].Content)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	rt := Router{Chat: NewChatHandler(&fakeChatter{}, &fakeConversations{missing: true}, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/chat", gin.H{"message": "hi", "conversation_id": uuid.NewString()})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env := decode(t, w); env.Error.Code != models.CodeNotFound {
		t.Errorf("code = %s", env.Error.Code)
	}
}

func TestChatStateless(t *testing.T) {
	chat := &fakeChatter{result: &service.ChatResult{Answer: "ok"}}
	rt := Router{Chat: NewChatHandler(chat, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/chat", gin.H{"message": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "conversation_id") {
		t.Errorf("unexpected conversation_id in %s", w.Body.String())
	}

	w = perform(t, rt, http.MethodGet, "/api/v1/conversations/"+uuid.NewString()+"/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("messages status = %d, want 404", w.Code)
	}
}

func TestStreamChat(t *testing.T) {
	chat := &fakeChatter{result: &service.ChatResult{Answer: "streamed answer"}}
	convs := &fakeConversations{}
	rt := Router{Chat: NewChatHandler(chat, convs, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/chat/stream", gin.H{"message": "hi"})
	body := w.Body.String()
	if !strings.Contains(body, "event:delta") || !strings.Contains(body, "event:result") {
		t.Fatalf("missing events in %s", body)
	}
	if len(convs.recorded) != 1 || convs.recorded[0].Incomplete {
		t.Errorf("recorded = %+v", convs.recorded)
	}
}

func TestGetMessages(t *testing.T) {
	convs := &fakeConversations{history: []models.Message{
		{Role: models.RoleUser, Content: "question"},
		{Role: models.RoleAssistant, Content: "answer"},
	}}
	rt := Router{Chat: NewChatHandler(&fakeChatter{}, convs, nil)}

	w := perform(t, rt, http.MethodGet, "/api/v1/conversations/"+uuid.NewString()+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var messages []models.Message
	if err := json.Unmarshal(decode(t, w).Data, &messages); err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 || messages[1].Role != models.RoleAssistant {
		t.Errorf("messages = %+v", messages)
	}

	w = perform(t, rt, http.MethodGet, "/api/v1/conversations/not-a-uuid/messages", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

type fakeSearcher struct {
	cases     models.RelatedCases
	got       service.SimilarCasesRequest
	topics    []string
	topicsErr error
}

func (f *fakeSearcher) SimilarCases(_ context.Context, req service.SimilarCasesRequest) (models.RelatedCases, error) {
	f.got = req
	return f.cases, nil
}

func (f *fakeSearcher) Topics(context.Context) ([]string, error) {
	return f.topics, f.topicsErr
}

func TestSimilarCases(t *testing.T) {
	search := &fakeSearcher{cases: models.RelatedCases{
		{CaseID: 1, Title: "Smith and City of Perth", Similarity: 0.91},
		{CaseID: 2, Title: "Jones and Shire of Broome", Similarity: 0.82},
	}}
	rt := Router{Search: NewSearchHandler(search, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/similar-cases", gin.H{
		"case_description": "refusal of a subdivision",
		"limit":            500,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		SimilarCases models.RelatedCases `json:"similar_cases"`
		Count        int                 `json:"count"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Count != 2 || data.SimilarCases[0].CaseID != 1 {
		t.Errorf("data = %+v", data)
	}
	if search.got.Limit != maxSimilarLimit {
		t.Errorf("limit = %d, want %d", search.got.Limit, maxSimilarLimit)
	}
}

func TestSimilarCasesEmpty(t *testing.T) {
	rt := Router{Search: NewSearchHandler(&fakeSearcher{}, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/similar-cases", gin.H{"case_description": "nothing matches"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"similar_cases":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = perform(t, rt, http.MethodPost, "/api/v1/similar-cases", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing description status = %d, want 400", w.Code)
	}
}

func TestTopics(t *testing.T) {
	rt := Router{Search: NewSearchHandler(&fakeSearcher{topics: []string{"Commercial Tenancy", "Planning"}}, nil)}

	w := perform(t, rt, http.MethodGet, "/api/v1/topics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Topics) != 2 || data.Topics[1] != "Planning" {
		t.Errorf("topics = %v", data.Topics)
	}

	rt = Router{Search: NewSearchHandler(&fakeSearcher{topicsErr: models.ErrStoreUnavailable}, nil)}
	w = perform(t, rt, http.MethodGet, "/api/v1/topics", nil)
	if env := decode(t, w); env.Success || env.Error.Code != models.CodeStoreUnavailable {
		t.Errorf("store failure body = %s", w.Body.String())
	}
}

type fakeChunks struct {
	matches   []service.ChunkMatch
	searched  service.SimilarChunksRequest
	processed service.ProcessChunksRequest
	err       error
}

func (f *fakeChunks) SimilarChunks(_ context.Context, req service.SimilarChunksRequest) ([]service.ChunkMatch, error) {
	f.searched = req
	return f.matches, f.err
}

func (f *fakeChunks) Process(_ context.Context, req service.ProcessChunksRequest) (*service.ProcessChunksResult, error) {
	f.processed = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProcessChunksResult{ChunkIDs: []int64{11, 12}, TotalChunks: 2}, nil
}

func TestSearchChunks(t *testing.T) {
	chunks := &fakeChunks{matches: []service.ChunkMatch{
		{CaseChunk: models.CaseChunk{ID: 30, CaseID: 1, Text: "The bond was withheld.", Title: "Smith and City of Perth"}, Similarity: 0.78},
	}}
	rt := Router{Chunks: NewChunkHandler(chunks, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/case-chunks/search", gin.H{
		"query":      "bond withheld",
		"case_topic": "Commercial Tenancy",
		"limit":      500,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data struct {
		Results []struct {
			ID         int64   `json:"id"`
			CaseID     int64   `json:"case_id"`
			Text       string  `json:"chunk_text"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
		Total int `json:"total_results"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Total != 1 || data.Results[0].ID != 30 || data.Results[0].Text != "The bond was withheld." || data.Results[0].Similarity != 0.78 {
		t.Errorf("data = %+v", data)
	}
	if chunks.searched.Limit != maxSimilarLimit || chunks.searched.Topic != "Commercial Tenancy" {
		t.Errorf("request = %+v", chunks.searched)
	}

	w = perform(t, rt, http.MethodPost, "/api/v1/case-chunks/search", gin.H{"limit": 3})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", w.Code)
	}
}

func TestSearchChunksEmpty(t *testing.T) {
	rt := Router{Chunks: NewChunkHandler(&fakeChunks{}, nil, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/case-chunks/search", gin.H{"query": "nothing matches"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) || !strings.Contains(w.Body.String(), `"total_results":0`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestProcessChunks(t *testing.T) {
	chunks := &fakeChunks{}
	rt := Router{Chunks: NewChunkHandler(chunks, chunks, nil)}

	w := perform(t, rt, http.MethodPost, "/api/v1/case-chunks/process", gin.H{
		"case_id":    7,
		"content":    "The tribunal considered the evidence.",
		"chunk_size": 200,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var data service.ProcessChunksResult
	if err := json.Unmarshal(decode(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.TotalChunks != 2 || data.ChunkIDs[1] != 12 {
		t.Errorf("data = %+v", data)
	}
	if chunks.processed.CaseID != 7 || chunks.processed.Size != 200 || chunks.processed.Overlap != 0 {
		t.Errorf("request = %+v", chunks.processed)
	}

	chunks.err = fmt.Errorf("case 9: %w", models.ErrNotFound)
	w = perform(t, rt, http.MethodPost, "/api/v1/case-chunks/process", gin.H{"case_id": 9, "content": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown case status = %d, want 404", w.Code)
	}

	rt = Router{Chunks: NewChunkHandler(chunks, nil, nil)}
	w = perform(t, rt, http.MethodPost, "/api/v1/case-chunks/process", gin.H{"case_id": 7, "content": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled processing status = %d, want 404", w.Code)
	}
}

type fakeReports struct {
	report *models.ArgumentReport
	body   string
}

func (f *fakeReports) Open(_ context.Context, id uuid.UUID) (*models.ArgumentReport, io.ReadCloser, error) {
	if f.report == nil || f.report.ID != id {
		return nil, nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
	}
	return f.report, io.NopCloser(strings.NewReader(f.body)), nil
}

func TestDownloadReport(t *testing.T) {
	body := "# Smith v Perth\n"
	report := &models.ArgumentReport{ID: uuid.New(), Filename: "Smith v Perth.md", Size: int64(len(body))}
	rt := Router{Reports: NewReportHandler(&fakeReports{report: report, body: body}, nil)}

	w := perform(t, rt, http.MethodGet, "/api/v1/reports/"+report.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != body {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/markdown") {
		t.Errorf("content type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "Smith v Perth.md") {
		t.Errorf("content disposition = %q", got)
	}

	w = perform(t, rt, http.MethodGet, "/api/v1/reports/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown report status = %d, want 404", w.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rt := Router{Health: NewHealthHandler(nil, map[string]Pinger{"postgres": ok}, nil)}
	if w := perform(t, rt, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("healthy status = %d", w.Code)
	}

	rt = Router{Health: NewHealthHandler(nil, map[string]Pinger{"postgres": ok, "redis": down}, nil)}
	w := perform(t, rt, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	registry.Observe(models.Metrics{InputTokens: 120, OutputTokens: 80, TotalTokens: 200, Elapsed: time.Second, ElapsedSeconds: 1})
	rt := Router{Health: NewHealthHandler(registry, nil, nil)}

	w := perform(t, rt, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var totals metrics.Totals
	if err := json.Unmarshal(decode(t, w).Data, &totals); err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 1 || totals.TotalTokens != 200 {
		t.Errorf("totals = %+v", totals)
	}
}
