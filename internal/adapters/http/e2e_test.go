package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/docsense/internal/bootstrap"
	"github.com/kirillkom/docsense/internal/config"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/infrastructure/repository/sqldb"
	"github.com/kirillkom/docsense/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docsense/internal/infrastructure/vector/chromem"
	"github.com/kirillkom/docsense/internal/observability/logging"
)

const e2eSummary = "This is your water bill. The amount due is 32,000 won."

type scriptedVision struct {
	mu      sync.Mutex
	prompts []string
}

func (m *scriptedVision) Generate(_ context.Context, req domain.InferenceRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Prompt)

	switch {
	case req.Instruction != "":
		lines := strings.Split(req.Prompt, "\n")
		question := strings.TrimPrefix(lines[len(lines)-1], "Question: ")
		return "Answer to " + question, nil
	case req.MaxTokens <= 16:
		return "고지서", nil
	default:
		return e2eSummary, nil
	}
}

func (m *scriptedVision) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

type hashEmbedder struct{}

func (hashEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

func (hashEmbedder) EmbedImage(_ context.Context, features domain.VisualFeatures) ([]float32, error) {
	return hashVector(features.ContentHandle), nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, 8)
	for i := range vec {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		vec[i] = float32(h.Sum32()%1000)/1000 + 0.01
	}
	return vec
}

type e2eEnv struct {
	t      *testing.T
	dir    string
	cfg    config.Config
	model  *scriptedVision
	index  *chromem.Store
	server *httptest.Server
}

func newE2EEnv(t *testing.T) *e2eEnv {
	t.Helper()
	env := &e2eEnv{t: t, dir: t.TempDir(), cfg: testConfig(), model: &scriptedVision{}}
	env.cfg.MaxUploadMB = 2
	env.start()
	return env
}

// start boots a fresh process over the same durable state.
func (e *e2eEnv) start() {
	e.t.Helper()
	if e.server != nil {
		e.server.Close()
	}

	db, err := sqldb.OpenDB(sqldb.DriverSQLite, filepath.Join(e.dir, "docsense.db"))
	if err != nil {
		e.t.Fatalf("open db: %v", err)
	}
	e.t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		e.t.Fatalf("ensure schema: %v", err)
	}
	storage, err := localfs.New(filepath.Join(e.dir, "uploads"))
	if err != nil {
		e.t.Fatalf("init storage: %v", err)
	}
	index, err := chromem.Open(filepath.Join(e.dir, "memory.gob"), logging.Discard())
	if err != nil {
		e.t.Fatalf("open vector index: %v", err)
	}
	e.index = index

	app := bootstrap.Assemble(e.cfg, bootstrap.Components{
		DB:       db,
		Storage:  storage,
		Model:    e.model,
		Embedder: hashEmbedder{},
		Memory:   index,
		Logger:   logging.Discard(),
	})
	e.server = httptest.NewServer(NewRouter(e.cfg, app.Companion, app.Feedback, nil).Handler())
	e.t.Cleanup(e.server.Close)
}

func (e *e2eEnv) client() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (e *e2eEnv) upload(client *http.Client) map[string]string {
	e.t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "bill.png")
	if err != nil {
		e.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(pngHeader())
	_ = mw.Close()

	res, err := client.Post(e.server.URL+"/start_session", mw.FormDataContentType(), body)
	if err != nil {
		e.t.Fatalf("start session: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		e.t.Fatalf("start session expected 200, got %d", res.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		e.t.Fatalf("decode start session: %v", err)
	}
	return out
}

func (e *e2eEnv) postJSON(client *http.Client, path string, payload any, out any) int {
	e.t.Helper()
	raw, _ := json.Marshal(payload)
	res, err := client.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		e.t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			e.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return res.StatusCode
}

func (e *e2eEnv) getJSON(client *http.Client, path string, out any) int {
	e.t.Helper()
	res, err := client.Get(e.server.URL + path)
	if err != nil {
		e.t.Fatalf("GET %s: %v", path, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			e.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return res.StatusCode
}

type recentDocsBody struct {
	Items []recentDocView `json:"items"`
}

type conversationBody struct {
	Messages []messageView `json:"messages"`
}

type askBody struct {
	Answer     string `json:"answer"`
	DocumentID string `json:"document_id"`
}

func TestE2EUploadListsOneRecentDocument(t *testing.T) {
	env := newE2EEnv(t)
	client := env.client()

	before := env.index.Count()
	started := env.upload(client)
	if started["document_id"] == "" || started["answer"] != e2eSummary {
		t.Fatalf("unexpected start session response: %+v", started)
	}
	if started["category"] != string(domain.CategoryBill) {
		t.Fatalf("expected bill category, got %q", started["category"])
	}
	// image embedding plus summary snippet
	if got := env.index.Count() - before; got != 2 {
		t.Fatalf("expected 2 memory records after upload, got %d", got)
	}

	var recent recentDocsBody
	if code := env.getJSON(client, "/recent_docs", &recent); code != http.StatusOK {
		t.Fatalf("recent docs expected 200, got %d", code)
	}
	if len(recent.Items) != 1 {
		t.Fatalf("expected exactly one recent doc, got %d", len(recent.Items))
	}
	item := recent.Items[0]
	if item.DocumentID != started["document_id"] || item.Category != string(domain.CategoryBill) {
		t.Fatalf("unexpected recent doc: %+v", item)
	}
	if item.Title == "" || item.LastModified <= 0 {
		t.Fatalf("expected title and last_modified, got %+v", item)
	}

	res, err := client.Get(env.server.URL + "/image?path=" + item.Path)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected png image, got %d %q", res.StatusCode, res.Header.Get("Content-Type"))
	}
}

func TestE2EFollowUpsShareTheOnlyDocument(t *testing.T) {
	env := newE2EEnv(t)
	client := env.client()
	docID := env.upload(client)["document_id"]

	for _, q := range []string{"Q1", "Q2"} {
		var answer askBody
		if code := env.postJSON(client, "/ask", map[string]string{"question": q}, &answer); code != http.StatusOK {
			t.Fatalf("ask %s expected 200, got %d", q, code)
		}
		if answer.DocumentID != docID || answer.Answer != "Answer to "+q {
			t.Fatalf("unexpected answer for %s: %+v", q, answer)
		}
	}

	var conv conversationBody
	if code := env.getJSON(client, "/conversation?document_id="+docID, &conv); code != http.StatusOK {
		t.Fatalf("conversation expected 200, got %d", code)
	}
	want := []struct{ role, text string }{
		{"assistant", e2eSummary},
		{"user", "Q1"},
		{"assistant", "Answer to Q1"},
		{"user", "Q2"},
		{"assistant", "Answer to Q2"},
	}
	if len(conv.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(conv.Messages))
	}
	for i, w := range want {
		got := conv.Messages[i]
		if got.Role != w.role || got.Text != w.text {
			t.Fatalf("message %d: expected %s %q, got %s %q", i, w.role, w.text, got.Role, got.Text)
		}
		if i > 0 && got.TS < conv.Messages[i-1].TS {
			t.Fatalf("messages out of order at %d", i)
		}
	}

	last := env.model.lastPrompt()
	if !strings.Contains(last, "Earlier note:") || !strings.Contains(last, "- Earlier document image: ") {
		t.Fatalf("expected second question to carry note and image memory, got %q", last)
	}
}

func TestE2EDeleteKeepsConversationHistory(t *testing.T) {
	env := newE2EEnv(t)
	client := env.client()
	docID := env.upload(client)["document_id"]
	if code := env.postJSON(client, "/ask", map[string]string{"question": "Q1"}, nil); code != http.StatusOK {
		t.Fatalf("ask expected 200, got %d", code)
	}

	var deleted domain.DeleteResult
	if code := env.postJSON(client, "/delete_doc", map[string]string{"document_id": docID}, &deleted); code != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", code)
	}
	if !deleted.Removed || deleted.FileRemoved {
		t.Fatalf("expected record removal only, got %+v", deleted)
	}

	var recent recentDocsBody
	env.getJSON(client, "/recent_docs", &recent)
	if len(recent.Items) != 0 {
		t.Fatalf("expected empty recent docs, got %d", len(recent.Items))
	}

	var conv conversationBody
	env.getJSON(client, "/conversation?document_id="+docID, &conv)
	if len(conv.Messages) != 3 {
		t.Fatalf("expected history to survive deletion, got %d messages", len(conv.Messages))
	}

	if code := env.postJSON(client, "/ask", map[string]string{"question": "Q2"}, nil); code != http.StatusNotFound {
		t.Fatalf("ask after deleting the only document expected 404, got %d", code)
	}
}

func TestE2ERecoversAfterRestartAndCookieLoss(t *testing.T) {
	env := newE2EEnv(t)
	client := env.client()
	docID := env.upload(client)["document_id"]

	env.start()

	var answer askBody
	if code := env.postJSON(client, "/ask", map[string]string{"question": "Q1"}, &answer); code != http.StatusOK {
		t.Fatalf("ask after restart expected 200, got %d", code)
	}
	if answer.DocumentID != docID {
		t.Fatalf("expected latest document %q, got %q", docID, answer.DocumentID)
	}

	env.start()
	fresh := env.client()
	if code := env.postJSON(fresh, "/ask", map[string]string{"question": "Q1"}, nil); code != http.StatusNotFound {
		t.Fatalf("ask without identity or document expected 404, got %d", code)
	}
	if code := env.postJSON(fresh, "/ask", map[string]string{"question": "Q2", "document_id": docID}, &answer); code != http.StatusOK {
		t.Fatalf("ask by document id after cookie loss expected 200, got %d", code)
	}

	// The re-issued cookie restores the original owner's listing.
	var recent recentDocsBody
	env.getJSON(fresh, "/recent_docs", &recent)
	if len(recent.Items) != 1 || recent.Items[0].DocumentID != docID {
		t.Fatalf("expected re-issued identity to list %q, got %+v", docID, recent.Items)
	}

	var conv conversationBody
	env.getJSON(client, "/conversation?document_id="+docID, &conv)
	if len(conv.Messages) != 5 {
		t.Fatalf("expected both recovered turns under the original owner, got %d messages", len(conv.Messages))
	}
}

func TestE2ESaveTextAndFeedback(t *testing.T) {
	env := newE2EEnv(t)
	client := env.client()

	var status map[string]string
	if code := env.postJSON(client, "/save_text", map[string]string{"text": "pay the bill on Friday"}, &status); code != http.StatusOK {
		t.Fatalf("save_text expected 200, got %d", code)
	}
	if status["status"] != "ok" {
		t.Fatalf("unexpected save_text response: %+v", status)
	}
	if code := env.postJSON(client, "/save_text", map[string]string{"text": "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty note expected 400, got %d", code)
	}

	docID := env.upload(client)["document_id"]
	var result domain.FeedbackResult
	code := env.postJSON(client, "/feedback", map[string]any{
		"document_id": docID,
		"prompt":      "Explain this document.",
		"output":      e2eSummary,
		"feedback":    "bad",
	}, &result)
	if code != http.StatusOK {
		t.Fatalf("feedback expected 200, got %d", code)
	}
	if result.Status != "ok" || result.ID == "" || result.Queued {
		t.Fatalf("unexpected feedback result: %+v", result)
	}
}
