package relay

// Notebook is a OneNote notebook as exposed by the relay.
type Notebook struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SectionCount int    `json:"section_count"`
}

// Section belongs to exactly one notebook.
type Section struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PageCount int    `json:"page_count"`
	Created   string `json:"created,omitempty"`
	Modified  string `json:"modified,omitempty"`
}

// Page is a page listing entry. Section is filled in by the relay when
// pages from several sections are flattened into one listing.
type Page struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Section    string `json:"section,omitempty"`
	Created    string `json:"created,omitempty"`
	Modified   string `json:"modified,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
}

// PageContent is a full page fetch. Content is the raw HTML returned by
// the upstream store; the relay never caches it.
type PageContent struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	PageID       string `json:"page_id"`
	Notebook     string `json:"notebook,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

type SearchResult struct {
	Title    string `json:"title"`
	PageID   string `json:"page_id"`
	Snippet  string `json:"snippet,omitempty"`
	Notebook string `json:"notebook,omitempty"`
}

type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Query      string         `json:"query"`
}

// AuthProbe is the result of an upstream authentication check.
type AuthProbe struct {
	User                 string
	Email                string
	TokenValidForSeconds int
}

type NotebookList struct {
	Notebooks []Notebook `json:"notebooks"`
}

type SectionList struct {
	Sections []Section `json:"sections"`
}

type PageList struct {
	Pages []Page `json:"pages"`
}

type CreateNotebookResult struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Notebook Notebook `json:"notebook"`
}

type CreateSectionResult struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Section Section `json:"section"`
}

type CreatePageResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Page    Page   `json:"page"`
}

type UpdatePageResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	PageID  string `json:"page_id"`
}

type WriteNoteResult struct {
	Status  string `json:"status"`
	PageID  string `json:"page_id"`
	Message string `json:"message"`
}

type ClearCacheResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
