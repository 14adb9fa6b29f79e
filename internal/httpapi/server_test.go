package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/systemshift/memex-relay/internal/relay"
)

const testToken = "memex-dev-token-2025"

// stubClient is an in-memory note store standing in for the upstream
// protocol client.
type stubClient struct {
	mu        sync.Mutex
	notebooks []relay.Notebook
	sections  map[string][]relay.Section
	pages     map[string][]relay.Page
	content   map[string]relay.PageContent

	probeErr  error
	createErr error

	probeCalls  int
	createCalls int
	clearCalls  int
	nextID      int
}

func newStubClient() *stubClient {
	return &stubClient{
		sections: make(map[string][]relay.Section),
		pages:    make(map[string][]relay.Page),
		content:  make(map[string]relay.PageContent),
	}
}

func (c *stubClient) addNotebook(id, name string) {
	c.notebooks = append(c.notebooks, relay.Notebook{ID: id, Name: name})
}

func (c *stubClient) addSection(notebookID, id, name string) {
	c.sections[notebookID] = append(c.sections[notebookID], relay.Section{ID: id, Name: name})
}

func (c *stubClient) addPage(sectionID, id, title string) {
	c.pages[sectionID] = append(c.pages[sectionID], relay.Page{ID: id, Title: title})
	c.content[id] = relay.PageContent{Title: title, Content: "<html><body>" + title + "</body></html>", PageID: id}
}

func (c *stubClient) newID(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s_%d", prefix, c.nextID)
}

func (c *stubClient) ListNotebooks(ctx context.Context) ([]relay.Notebook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]relay.Notebook, len(c.notebooks))
	copy(out, c.notebooks)
	return out, nil
}

func (c *stubClient) ListSections(ctx context.Context, notebookID string) ([]relay.Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]relay.Section, len(c.sections[notebookID]))
	copy(out, c.sections[notebookID])
	return out, nil
}

func (c *stubClient) ListPages(ctx context.Context, sectionID string) ([]relay.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]relay.Page, len(c.pages[sectionID]))
	copy(out, c.pages[sectionID])
	return out, nil
}

func (c *stubClient) GetPage(ctx context.Context, pageID string) (relay.PageContent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.content[pageID]
	if !ok {
		return relay.PageContent{}, &relay.UpstreamError{StatusCode: 404, Message: "page not found"}
	}
	return content, nil
}

func (c *stubClient) CreateNotebook(ctx context.Context, name, description string) (relay.Notebook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return relay.Notebook{}, c.createErr
	}
	nb := relay.Notebook{ID: c.newID("nb"), Name: name}
	c.notebooks = append(c.notebooks, nb)
	return nb, nil
}

func (c *stubClient) CreateSection(ctx context.Context, notebookID, name string) (relay.Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return relay.Section{}, c.createErr
	}
	sec := relay.Section{ID: c.newID("sec"), Name: name}
	c.sections[notebookID] = append(c.sections[notebookID], sec)
	return sec, nil
}

func (c *stubClient) CreatePage(ctx context.Context, sectionID, title, contentHTML string) (relay.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return relay.Page{}, c.createErr
	}
	page := relay.Page{ID: c.newID("page"), Title: title}
	c.pages[sectionID] = append(c.pages[sectionID], page)
	c.content[page.ID] = relay.PageContent{Title: title, Content: contentHTML, PageID: page.ID}
	return page, nil
}

func (c *stubClient) UpdatePage(ctx context.Context, pageID, contentHTML, targetElement string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.content[pageID]
	if !ok {
		return &relay.UpstreamError{StatusCode: 404, Message: "page not found"}
	}
	content.Content += contentHTML
	c.content[pageID] = content
	return nil
}

func (c *stubClient) Search(ctx context.Context, query string, limit int) ([]relay.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	needle := strings.ToLower(query)
	var results []relay.SearchResult
	for _, nb := range c.notebooks {
		for _, sec := range c.sections[nb.ID] {
			for _, p := range c.pages[sec.ID] {
				if strings.Contains(strings.ToLower(p.Title), needle) {
					results = append(results, relay.SearchResult{Title: p.Title, PageID: p.ID, Notebook: nb.Name})
				}
			}
		}
	}
	return results, nil
}

func (c *stubClient) ProbeAuth(ctx context.Context) (relay.AuthProbe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeCalls++
	if c.probeErr != nil {
		return relay.AuthProbe{}, c.probeErr
	}
	return relay.AuthProbe{User: "Test User", Email: "test@example.com", TokenValidForSeconds: 3600}, nil
}

func (c *stubClient) ClearAuthCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCalls++
	return nil
}

func newTestServer(client *stubClient) *Server {
	svc := relay.NewService(relay.ServiceOptions{Client: client})
	return NewServer(svc)
}

func doRequest(t *testing.T, server *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) errorEnvelope {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var envelope errorEnvelope
	decodeBody(t, rec, &envelope)
	if envelope.Status != "error" {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if envelope.Message == "" {
		t.Fatal("error envelope must carry a message")
	}
	return envelope
}

func TestHealthNoAuthRequired(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Service   string `json:"service"`
		Version   string `json:"version"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Auth      struct {
			Status string `json:"status"`
		} `json:"onenote_auth"`
	}
	decodeBody(t, rec, &payload)
	if payload.Service != "memex-relay" || payload.Version == "" || payload.Timestamp == "" {
		t.Fatalf("unexpected health payload: %s", rec.Body.String())
	}
	if payload.Status != "operational" || payload.Auth.Status != "authenticated" {
		t.Fatalf("expected operational/authenticated, got %s", rec.Body.String())
	}
}

func TestHealthDegradedWhenNotAuthenticated(t *testing.T) {
	client := newStubClient()
	client.probeErr = relay.ErrNotAuthenticated
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &payload)
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", rec.Body.String())
	}
}

func TestAuthRequiredOnAllEndpoints(t *testing.T) {
	server := newTestServer(newStubClient())

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/notebooks"},
		{http.MethodPost, "/v1/notebooks"},
		{http.MethodPost, "/v1/sections"},
		{http.MethodGet, "/v1/notebooks/Work/sections"},
		{http.MethodGet, "/v1/notebooks/Work/pages"},
		{http.MethodGet, "/v1/notebooks/Work/sections/Notes/pages"},
		{http.MethodGet, "/v1/pages/p1"},
		{http.MethodPost, "/v1/pages"},
		{http.MethodPost, "/v1/pages/update"},
		{http.MethodPost, "/v1/get_page"},
		{http.MethodPost, "/v1/search"},
		{http.MethodPost, "/v1/write_note"},
		{http.MethodPost, "/v1/auth/clear_cache"},
		{http.MethodGet, "/v1/ops"},
	}
	for _, p := range paths {
		rec := doRequest(t, server, p.method, p.path, "", nil)
		assertErrorEnvelope(t, rec, http.StatusUnauthorized)

		rec = doRequest(t, server, p.method, p.path, "wrong-token", nil)
		envelope := assertErrorEnvelope(t, rec, http.StatusUnauthorized)
		if envelope.Message != "Invalid authentication token" {
			t.Fatalf("%s %s: unexpected message %q", p.method, p.path, envelope.Message)
		}
	}
}

func TestCreateNotebookReturns201(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Journal"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Status   string         `json:"status"`
		Message  string         `json:"message"`
		Notebook relay.Notebook `json:"notebook"`
	}
	decodeBody(t, rec, &payload)
	if payload.Status != "success" || payload.Notebook.Name != "Journal" {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
}

func TestCreatePageValidationSkipsUpstream(t *testing.T) {
	client := newStubClient()
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/pages", testToken, map[string]string{"section_id": "sec_1"})
	envelope := assertErrorEnvelope(t, rec, http.StatusBadRequest)
	if !strings.Contains(envelope.Message, "title") {
		t.Fatalf("validation message should name the field, got %q", envelope.Message)
	}
	if client.createCalls != 0 {
		t.Fatal("invalid request must not reach upstream")
	}
}

func TestNotebookNotFound(t *testing.T) {
	client := newStubClient()
	client.addNotebook("nb_1", "Work")
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodGet, "/v1/notebooks/Missing/sections", testToken, nil)
	envelope := assertErrorEnvelope(t, rec, http.StatusNotFound)
	if !strings.Contains(envelope.Message, "Missing") {
		t.Fatalf("message should name the notebook, got %q", envelope.Message)
	}
}

func TestAmbiguousNotebookNameConflicts(t *testing.T) {
	client := newStubClient()
	client.addNotebook("nb_1", "Work")
	client.addNotebook("nb_2", "work")
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodGet, "/v1/notebooks/WORK/sections", testToken, nil)
	envelope := assertErrorEnvelope(t, rec, http.StatusConflict)
	if !strings.Contains(envelope.Message, "nb_1") || !strings.Contains(envelope.Message, "nb_2") {
		t.Fatalf("conflict message should carry matched ids, got %q", envelope.Message)
	}
}

func TestCreateAndListFlow(t *testing.T) {
	client := newStubClient()
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Test NB"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create notebook: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodPost, "/v1/sections", testToken, map[string]string{
		"notebook_name": "Test NB",
		"section_name":  "Sec1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create section: %d %s", rec.Code, rec.Body.String())
	}
	var sectionResp struct {
		Section relay.Section `json:"section"`
	}
	decodeBody(t, rec, &sectionResp)

	rec = doRequest(t, server, http.MethodPost, "/v1/pages", testToken, map[string]string{
		"section_id": sectionResp.Section.ID,
		"title":      "Hello",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create page: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/notebooks/Test%20NB/sections/Sec1/pages", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list pages: %d %s", rec.Code, rec.Body.String())
	}
	var pages relay.PageList
	decodeBody(t, rec, &pages)
	if len(pages.Pages) != 1 || pages.Pages[0].Title != "Hello" {
		t.Fatalf("unexpected pages: %s", rec.Body.String())
	}
}

func TestGetPageByIDAndByBody(t *testing.T) {
	client := newStubClient()
	client.addNotebook("nb_1", "Work")
	client.addSection("nb_1", "sec_1", "Notes")
	client.addPage("sec_1", "p1", "Standup")
	server := newTestServer(client)

	for _, rec := range []*httptest.ResponseRecorder{
		doRequest(t, server, http.MethodGet, "/v1/pages/p1", testToken, nil),
		doRequest(t, server, http.MethodPost, "/v1/get_page", testToken, map[string]string{"page_id": "p1"}),
	} {
		if rec.Code != http.StatusOK {
			t.Fatalf("get page: %d %s", rec.Code, rec.Body.String())
		}
		var content relay.PageContent
		decodeBody(t, rec, &content)
		if content.PageID != "p1" || content.Title != "Standup" {
			t.Fatalf("unexpected content: %s", rec.Body.String())
		}
	}
}

func TestGetPageUpstream404PassesThrough(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodGet, "/v1/pages/missing", testToken, nil)
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestUpstream5xxBecomesBadGateway(t *testing.T) {
	client := newStubClient()
	client.createErr = &relay.UpstreamError{StatusCode: 503, Message: "service unavailable"}
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Journal"})
	assertErrorEnvelope(t, rec, http.StatusBadGateway)
}

func TestUpstream4xxPassesThrough(t *testing.T) {
	client := newStubClient()
	client.createErr = &relay.UpstreamError{StatusCode: 403, Code: "Forbidden", Message: "no write access"}
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Journal"})
	assertErrorEnvelope(t, rec, http.StatusForbidden)
}

func TestUpdatePage(t *testing.T) {
	client := newStubClient()
	client.addNotebook("nb_1", "Work")
	client.addSection("nb_1", "sec_1", "Notes")
	client.addPage("sec_1", "p1", "Standup")
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/pages/update", testToken, map[string]string{
		"page_id":      "p1",
		"content_html": "<p>more</p>",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update page: %d %s", rec.Code, rec.Body.String())
	}
	var payload relay.UpdatePageResult
	decodeBody(t, rec, &payload)
	if payload.PageID != "p1" || payload.Status != "success" {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
}

func TestSearchEmptyShape(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodPost, "/v1/search", testToken, map[string]any{"query": "nothing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"results":[]`) {
		t.Fatalf("results must be an empty array, got %s", body)
	}
	var resp relay.SearchResponse
	decodeBody(t, rec, &resp)
	if resp.TotalCount != 0 || resp.Query != "nothing" {
		t.Fatalf("unexpected response: %s", body)
	}
}

func TestWriteNote(t *testing.T) {
	client := newStubClient()
	client.addNotebook("nb_1", "Journal")
	client.addSection("nb_1", "sec_1", "Daily")
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/write_note", testToken, map[string]string{
		"notebook":   "journal",
		"page_title": "Monday",
		"content":    "<p>notes</p>",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("write note: %d %s", rec.Code, rec.Body.String())
	}
	var payload relay.WriteNoteResult
	decodeBody(t, rec, &payload)
	if payload.Status != "success" || payload.PageID == "" {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
}

func TestClearCacheThenHealthReprobes(t *testing.T) {
	client := newStubClient()
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "operational") {
		t.Fatalf("expected operational health, got %s", rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodPost, "/v1/auth/clear_cache", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear cache: %d %s", rec.Code, rec.Body.String())
	}
	if client.clearCalls != 1 {
		t.Fatalf("expected upstream clear, got %d", client.clearCalls)
	}

	// After clearing, the health check must probe again instead of
	// reporting the stale authenticated state.
	client.probeErr = relay.ErrNotAuthenticated
	rec = doRequest(t, server, http.MethodGet, "/", "", nil)
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("expected degraded after cleared cache, got %s", rec.Body.String())
	}
	if client.probeCalls != 2 {
		t.Fatalf("expected re-probe after clear, got %d probes", client.probeCalls)
	}
}

func TestOperationsFeed(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Journal"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create notebook: %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/ops", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ops: %d %s", rec.Code, rec.Body.String())
	}
	var feed relay.OperationFeed
	decodeBody(t, rec, &feed)
	if len(feed.Items) != 1 || feed.Items[0].Action != "notebook_create" {
		t.Fatalf("unexpected feed: %s", rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/ops/"+feed.Items[0].ID, testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("op by id: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/ops/op_missing", testToken, nil)
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(newStubClient())

	rec := doRequest(t, server, http.MethodGet, "/v1/unknown", testToken, nil)
	envelope := assertErrorEnvelope(t, rec, http.StatusNotFound)
	if envelope.Message != "route not found" {
		t.Fatalf("unexpected message %q", envelope.Message)
	}
}

func TestBodyTooLarge(t *testing.T) {
	svc := relay.NewService(relay.ServiceOptions{Client: newStubClient()})
	server := NewServerWithConfig(svc, ServerConfig{MaxBodyBytes: 64})

	big := map[string]string{"name": strings.Repeat("x", 256)}
	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, big)
	assertErrorEnvelope(t, rec, http.StatusRequestEntityTooLarge)
}

func TestInternalErrorIsGeneric(t *testing.T) {
	client := newStubClient()
	client.createErr = fmt.Errorf("driver exploded at /var/lib/secret")
	server := newTestServer(client)

	rec := doRequest(t, server, http.MethodPost, "/v1/notebooks", testToken, map[string]string{"name": "Journal"})
	envelope := assertErrorEnvelope(t, rec, http.StatusInternalServerError)
	if envelope.Message != "An unexpected error occurred" {
		t.Fatalf("internal detail leaked: %q", envelope.Message)
	}
}
