package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NoteClient is the protocol client adapter boundary: the verbs the
// relay needs from the upstream note store.
type NoteClient interface {
	ListNotebooks(ctx context.Context) ([]Notebook, error)
	ListSections(ctx context.Context, notebookID string) ([]Section, error)
	ListPages(ctx context.Context, sectionID string) ([]Page, error)
	GetPage(ctx context.Context, pageID string) (PageContent, error)
	CreateNotebook(ctx context.Context, name, description string) (Notebook, error)
	CreateSection(ctx context.Context, notebookID, name string) (Section, error)
	CreatePage(ctx context.Context, sectionID, title, contentHTML string) (Page, error)
	UpdatePage(ctx context.Context, pageID, contentHTML, targetElement string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	ProbeAuth(ctx context.Context) (AuthProbe, error)
	ClearAuthCache() error
}

const (
	// Bounds on the title-scan search walk. The Graph OneNote API has
	// no content search endpoint, so search enumerates a bounded slice
	// of the hierarchy and matches page titles.
	searchMaxNotebooks = 5
	searchMaxSections  = 3
	searchMaxPages     = 10

	defaultSearchLimit = 10
)

type GraphClientOptions struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	UserAgent  string
	// Retry policy for transport errors, 429 and 5xx responses. 4xx
	// responses are never retried, keeping relayed writes at-most-once
	// whenever the upstream has seen the request.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// GraphClient talks to the Microsoft Graph OneNote API.
type GraphClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewGraphClient(opts GraphClientOptions) *GraphClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &GraphClient{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// Wire shapes returned by Graph.

type graphNotebook struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphSection struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Created     string `json:"createdDateTime"`
	Modified    string `json:"lastModifiedDateTime"`
}

type graphPage struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Created        string `json:"createdDateTime"`
	Modified       string `json:"lastModifiedDateTime"`
	ContentURL     string `json:"contentUrl"`
	ParentNotebook *struct {
		DisplayName string `json:"displayName"`
	} `json:"parentNotebook"`
}

type graphNotebookList struct {
	Value []graphNotebook `json:"value"`
}

type graphSectionList struct {
	Value []graphSection `json:"value"`
}

type graphPageList struct {
	Value []graphPage `json:"value"`
}

func (c *GraphClient) ListNotebooks(ctx context.Context) ([]Notebook, error) {
	var list graphNotebookList
	if err := c.getJSON(ctx, "/me/onenote/notebooks", &list); err != nil {
		return nil, err
	}
	notebooks := make([]Notebook, 0, len(list.Value))
	for _, nb := range list.Value {
		// Section count is best effort; an unreadable notebook still
		// shows up in the listing.
		count := 0
		var sections graphSectionList
		if err := c.getJSON(ctx, "/me/onenote/notebooks/"+url.PathEscape(nb.ID)+"/sections", &sections); err == nil {
			count = len(sections.Value)
		}
		notebooks = append(notebooks, Notebook{ID: nb.ID, Name: nb.DisplayName, SectionCount: count})
	}
	return notebooks, nil
}

func (c *GraphClient) ListSections(ctx context.Context, notebookID string) ([]Section, error) {
	var list graphSectionList
	if err := c.getJSON(ctx, "/me/onenote/notebooks/"+url.PathEscape(notebookID)+"/sections", &list); err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(list.Value))
	for _, sec := range list.Value {
		count := 0
		var pages graphPageList
		if err := c.getJSON(ctx, "/me/onenote/sections/"+url.PathEscape(sec.ID)+"/pages", &pages); err == nil {
			count = len(pages.Value)
		}
		sections = append(sections, Section{
			ID:        sec.ID,
			Name:      sec.DisplayName,
			PageCount: count,
			Created:   sec.Created,
			Modified:  sec.Modified,
		})
	}
	return sections, nil
}

func (c *GraphClient) ListPages(ctx context.Context, sectionID string) ([]Page, error) {
	var list graphPageList
	if err := c.getJSON(ctx, "/me/onenote/sections/"+url.PathEscape(sectionID)+"/pages", &list); err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(list.Value))
	for _, p := range list.Value {
		pages = append(pages, Page{
			ID:         p.ID,
			Title:      p.Title,
			Created:    p.Created,
			Modified:   p.Modified,
			ContentURL: p.ContentURL,
		})
	}
	return pages, nil
}

func (c *GraphClient) GetPage(ctx context.Context, pageID string) (PageContent, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/me/onenote/pages/"+url.PathEscape(pageID)+"/content", "", nil)
	if err != nil {
		return PageContent{}, err
	}
	if status >= 400 {
		return PageContent{}, upstreamError(status, body)
	}

	var meta graphPage
	if err := c.getJSON(ctx, "/me/onenote/pages/"+url.PathEscape(pageID)+"?$expand=parentNotebook", &meta); err != nil {
		return PageContent{}, err
	}
	content := PageContent{
		Title:        meta.Title,
		Content:      string(body),
		PageID:       pageID,
		LastModified: meta.Modified,
	}
	if meta.ParentNotebook != nil {
		content.Notebook = meta.ParentNotebook.DisplayName
	}
	return content, nil
}

func (c *GraphClient) CreateNotebook(ctx context.Context, name, description string) (Notebook, error) {
	payload := map[string]string{"displayName": name}
	_ = description // Graph notebooks have no description field; accepted for API compatibility.
	var created graphNotebook
	if err := c.doJSON(ctx, http.MethodPost, "/me/onenote/notebooks", payload, &created); err != nil {
		return Notebook{}, err
	}
	return Notebook{ID: created.ID, Name: created.DisplayName}, nil
}

func (c *GraphClient) CreateSection(ctx context.Context, notebookID, name string) (Section, error) {
	payload := map[string]string{"displayName": name}
	var created graphSection
	if err := c.doJSON(ctx, http.MethodPost, "/me/onenote/notebooks/"+url.PathEscape(notebookID)+"/sections", payload, &created); err != nil {
		return Section{}, err
	}
	return Section{ID: created.ID, Name: created.DisplayName, Created: created.Created, Modified: created.Modified}, nil
}

func (c *GraphClient) CreatePage(ctx context.Context, sectionID, title, contentHTML string) (Page, error) {
	html := buildPageHTML(title, contentHTML)
	status, body, err := c.do(ctx, http.MethodPost, "/me/onenote/sections/"+url.PathEscape(sectionID)+"/pages", "application/xhtml+xml", []byte(html))
	if err != nil {
		return Page{}, err
	}
	if status >= 400 {
		return Page{}, upstreamError(status, body)
	}
	var created graphPage
	if err := json.Unmarshal(body, &created); err != nil {
		return Page{}, &UpstreamError{StatusCode: status, Message: "malformed create page response"}
	}
	return Page{
		ID:         created.ID,
		Title:      created.Title,
		Created:    created.Created,
		Modified:   created.Modified,
		ContentURL: created.ContentURL,
	}, nil
}

func (c *GraphClient) UpdatePage(ctx context.Context, pageID, contentHTML, targetElement string) error {
	if targetElement == "" {
		targetElement = "body"
	}
	commands := []map[string]string{
		{
			"target":  targetElement,
			"action":  "append",
			"content": contentHTML,
		},
	}
	return c.doJSON(ctx, http.MethodPatch, "/me/onenote/pages/"+url.PathEscape(pageID)+"/content", commands, nil)
}

// Search walks a bounded slice of the notebook hierarchy and matches
// the query case-insensitively against page titles. Unreadable
// notebooks and sections are skipped, not fatal.
func (c *GraphClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var list graphNotebookList
	if err := c.getJSON(ctx, "/me/onenote/notebooks", &list); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	results := make([]SearchResult, 0, limit)
	notebooks := list.Value
	if len(notebooks) > searchMaxNotebooks {
		notebooks = notebooks[:searchMaxNotebooks]
	}
	for _, nb := range notebooks {
		var sections graphSectionList
		if err := c.getJSON(ctx, "/me/onenote/notebooks/"+url.PathEscape(nb.ID)+"/sections", &sections); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		secs := sections.Value
		if len(secs) > searchMaxSections {
			secs = secs[:searchMaxSections]
		}
		for _, sec := range secs {
			var pages graphPageList
			if err := c.getJSON(ctx, "/me/onenote/sections/"+url.PathEscape(sec.ID)+"/pages", &pages); err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				continue
			}
			pgs := pages.Value
			if len(pgs) > searchMaxPages {
				pgs = pgs[:searchMaxPages]
			}
			for _, p := range pgs {
				if !strings.Contains(strings.ToLower(p.Title), needle) {
					continue
				}
				results = append(results, SearchResult{
					Title:    p.Title,
					PageID:   p.ID,
					Snippet:  titleSnippet(p.Title),
					Notebook: nb.DisplayName,
				})
				if len(results) >= limit {
					return results, nil
				}
			}
		}
	}
	return results, nil
}

func (c *GraphClient) ProbeAuth(ctx context.Context) (AuthProbe, error) {
	var me struct {
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := c.getJSON(ctx, "/me", &me); err != nil {
		return AuthProbe{}, err
	}
	probe := AuthProbe{User: me.DisplayName, Email: me.Mail}
	if probe.Email == "" {
		probe.Email = me.UserPrincipalName
	}
	if reporter, ok := c.tokens.(interface{ ValidFor() time.Duration }); ok {
		probe.TokenValidForSeconds = int(reporter.ValidFor().Seconds())
	}
	return probe, nil
}

func (c *GraphClient) ClearAuthCache() error {
	if c.tokens == nil {
		return nil
	}
	return c.tokens.Clear()
}

func (c *GraphClient) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *GraphClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = data
		contentType = "application/json"
	}
	status, respBody, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return upstreamError(status, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &UpstreamError{StatusCode: status, Message: "malformed upstream response"}
	}
	return nil
}

func (c *GraphClient) do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	if c.tokens == nil {
		return 0, nil, ErrNotAuthenticated
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}
	endpoint := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return 0, nil, waitErr
				}
				continue
			}
			return 0, nil, &UpstreamError{Message: err.Error()}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return 0, nil, &UpstreamError{StatusCode: resp.StatusCode, Message: readErr.Error()}
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return 0, nil, waitErr
			}
			continue
		}
		return resp.StatusCode, respBody, nil
	}
}

func (c *GraphClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// upstreamError translates a Graph error payload into an UpstreamError.
// Graph wraps failures as {"error": {"code": ..., "message": ...}}.
func upstreamError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	code := ""
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error.Code != "" {
			code = parsed.Error.Code
		}
		if strings.TrimSpace(parsed.Error.Message) != "" {
			message = parsed.Error.Message
		}
	}
	return &UpstreamError{StatusCode: status, Code: code, Message: message}
}

// buildPageHTML wraps plain content in the XHTML document OneNote
// expects on page creation. Content that already is a full document is
// sent unchanged.
func buildPageHTML(title, content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "<!DOCTYPE") || strings.HasPrefix(trimmed, "<html") {
		return content
	}
	created := time.Now().UTC().Format("2006-01-02T15:04:05.0000000")
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("    <title>" + htmlEscape(title) + "</title>\n")
	b.WriteString("    <meta name=\"created\" content=\"" + created + "\" />\n")
	b.WriteString("</head>\n<body>\n    <div>\n")
	b.WriteString("        <h1>" + htmlEscape(title) + "</h1>\n")
	if trimmed == "" {
		b.WriteString("        <p>Page created by Memex Relay API</p>\n")
	} else {
		b.WriteString("        <div>" + content + "</div>\n")
	}
	b.WriteString("    </div>\n</body>\n</html>")
	return b.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

func titleSnippet(title string) string {
	const max = 100
	if len(title) > max {
		title = title[:max]
	}
	return fmt.Sprintf("Found in page title: %s...", title)
}
