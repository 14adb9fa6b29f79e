package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates one relayed request: resolve names, call the
// upstream client, shape the response, record write operations. It
// holds no notebook or page state; every call reflects live upstream
// data.
type Service struct {
	client   NoteClient
	resolver *Resolver
	session  *AuthSession
	ops      OpLog
}

type ServiceOptions struct {
	Client NoteClient
	OpLog  OpLog
}

func NewService(opts ServiceOptions) *Service {
	ops := opts.OpLog
	if ops == nil {
		ops = NewMemoryOpLog(0)
	}
	return &Service{
		client:   opts.Client,
		resolver: NewResolver(opts.Client),
		session:  NewAuthSession(),
		ops:      ops,
	}
}

func (s *Service) ListNotebooks(ctx context.Context) (NotebookList, error) {
	notebooks, err := s.client.ListNotebooks(ctx)
	if err != nil {
		return NotebookList{}, err
	}
	if notebooks == nil {
		notebooks = []Notebook{}
	}
	return NotebookList{Notebooks: notebooks}, nil
}

func (s *Service) CreateNotebook(ctx context.Context, name, description string) (CreateNotebookResult, error) {
	notebook, err := s.client.CreateNotebook(ctx, name, description)
	s.recordOp("notebook_create", name, err)
	if err != nil {
		return CreateNotebookResult{}, err
	}
	return CreateNotebookResult{
		Status:   "success",
		Message:  fmt.Sprintf("Notebook '%s' created successfully", name),
		Notebook: notebook,
	}, nil
}

func (s *Service) ListSections(ctx context.Context, notebookName string) (SectionList, error) {
	notebookID, err := s.resolver.ResolveNotebook(ctx, notebookName)
	if err != nil {
		return SectionList{}, err
	}
	sections, err := s.client.ListSections(ctx, notebookID)
	if err != nil {
		return SectionList{}, err
	}
	if sections == nil {
		sections = []Section{}
	}
	return SectionList{Sections: sections}, nil
}

func (s *Service) CreateSection(ctx context.Context, notebookName, sectionName string) (CreateSectionResult, error) {
	notebookID, err := s.resolver.ResolveNotebook(ctx, notebookName)
	if err != nil {
		return CreateSectionResult{}, err
	}
	section, err := s.client.CreateSection(ctx, notebookID, sectionName)
	s.recordOp("section_create", notebookName+"/"+sectionName, err)
	if err != nil {
		return CreateSectionResult{}, err
	}
	return CreateSectionResult{
		Status:  "success",
		Message: fmt.Sprintf("Section '%s' created successfully", sectionName),
		Section: section,
	}, nil
}

// ListNotebookPages flattens the pages of every section in the named
// notebook into one listing, annotated with the section name.
func (s *Service) ListNotebookPages(ctx context.Context, notebookName string) (PageList, error) {
	notebookID, err := s.resolver.ResolveNotebook(ctx, notebookName)
	if err != nil {
		return PageList{}, err
	}
	sections, err := s.client.ListSections(ctx, notebookID)
	if err != nil {
		return PageList{}, err
	}
	pages := []Page{}
	for _, sec := range sections {
		sectionPages, err := s.client.ListPages(ctx, sec.ID)
		if err != nil {
			return PageList{}, err
		}
		for _, p := range sectionPages {
			p.Section = sec.Name
			pages = append(pages, p)
		}
	}
	return PageList{Pages: pages}, nil
}

func (s *Service) ListSectionPages(ctx context.Context, notebookName, sectionName string) (PageList, error) {
	notebookID, err := s.resolver.ResolveNotebook(ctx, notebookName)
	if err != nil {
		return PageList{}, err
	}
	sectionID, err := s.resolver.ResolveSection(ctx, notebookID, sectionName)
	if err != nil {
		return PageList{}, err
	}
	pages, err := s.client.ListPages(ctx, sectionID)
	if err != nil {
		return PageList{}, err
	}
	if pages == nil {
		pages = []Page{}
	}
	return PageList{Pages: pages}, nil
}

func (s *Service) GetPage(ctx context.Context, pageID string) (PageContent, error) {
	return s.client.GetPage(ctx, pageID)
}

func (s *Service) CreatePage(ctx context.Context, sectionID, title, contentHTML string) (CreatePageResult, error) {
	page, err := s.client.CreatePage(ctx, sectionID, title, contentHTML)
	s.recordOp("page_create", title, err)
	if err != nil {
		return CreatePageResult{}, err
	}
	return CreatePageResult{
		Status:  "success",
		Message: fmt.Sprintf("Page '%s' created successfully", title),
		Page:    page,
	}, nil
}

func (s *Service) UpdatePage(ctx context.Context, pageID, contentHTML, targetElement string) (UpdatePageResult, error) {
	err := s.client.UpdatePage(ctx, pageID, contentHTML, targetElement)
	s.recordOp("page_update", pageID, err)
	if err != nil {
		return UpdatePageResult{}, err
	}
	return UpdatePageResult{
		Status:  "success",
		Message: "Page content updated successfully",
		PageID:  pageID,
	}, nil
}

// WriteNote creates a page in the first section of the named notebook.
// The notebook name goes through strict resolution; the section choice
// keeps the historical first-section behavior because the caller names
// no section.
func (s *Service) WriteNote(ctx context.Context, notebookName, pageTitle, content string) (WriteNoteResult, error) {
	notebookID, err := s.resolver.ResolveNotebook(ctx, notebookName)
	if err != nil {
		return WriteNoteResult{}, err
	}
	sections, err := s.client.ListSections(ctx, notebookID)
	if err != nil {
		return WriteNoteResult{}, err
	}
	if len(sections) == 0 {
		err := &NotFoundError{Kind: "section", Name: "any section in notebook " + notebookName}
		s.recordOp("note_write", notebookName+"/"+pageTitle, err)
		return WriteNoteResult{}, err
	}
	page, err := s.client.CreatePage(ctx, sections[0].ID, pageTitle, content)
	s.recordOp("note_write", notebookName+"/"+pageTitle, err)
	if err != nil {
		return WriteNoteResult{}, err
	}
	return WriteNoteResult{
		Status:  "success",
		PageID:  page.ID,
		Message: fmt.Sprintf("Page '%s' created successfully", pageTitle),
	}, nil
}

func (s *Service) Search(ctx context.Context, query string, limit int) (SearchResponse, error) {
	results, err := s.client.Search(ctx, query, limit)
	if err != nil {
		return SearchResponse{}, err
	}
	if results == nil {
		results = []SearchResult{}
	}
	return SearchResponse{
		Results:    results,
		TotalCount: len(results),
		Query:      query,
	}, nil
}

// AuthStatus reports the cached upstream auth state, probing first when
// the session is unknown so a cleared cache is never reported stale.
func (s *Service) AuthStatus(ctx context.Context) AuthStatus {
	if snapshot := s.session.Snapshot(); snapshot.Status != AuthUnknown {
		return snapshot
	}
	return s.probeAuth(ctx)
}

func (s *Service) probeAuth(ctx context.Context) AuthStatus {
	probe, err := s.client.ProbeAuth(ctx)
	var status AuthStatus
	switch {
	case err == nil:
		status = AuthStatus{
			Status:               AuthAuthenticated,
			User:                 probe.User,
			Email:                probe.Email,
			TokenValidForSeconds: probe.TokenValidForSeconds,
		}
	case errors.Is(err, ErrNotAuthenticated):
		status = AuthStatus{Status: AuthNotAuthenticated, Detail: err.Error()}
	default:
		status = AuthStatus{Status: AuthErrored, Detail: err.Error()}
	}
	s.session.Set(status)
	return status
}

// ClearAuthCache drops the cached upstream credentials and returns the
// session to unknown. Idempotent: clearing an empty cache succeeds.
func (s *Service) ClearAuthCache() (ClearCacheResult, error) {
	err := s.client.ClearAuthCache()
	s.session.Clear()
	s.recordOp("auth_clear_cache", "", err)
	if err != nil {
		return ClearCacheResult{}, err
	}
	return ClearCacheResult{Status: "success", Message: "Token cache cleared"}, nil
}

func (s *Service) Operations(limit int) (OperationFeed, error) {
	ops, err := s.ops.List(limit)
	if err != nil {
		return OperationFeed{}, err
	}
	if ops == nil {
		ops = []Operation{}
	}
	return OperationFeed{Items: ops}, nil
}

func (s *Service) Operation(id string) (Operation, error) {
	return s.ops.Get(id)
}

// recordOp appends to the operation log. A failing log backend never
// fails the relayed request.
func (s *Service) recordOp(action, target string, opErr error) {
	op := Operation{
		ID:        "op_" + uuid.NewString(),
		Action:    action,
		Target:    target,
		Status:    OpSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	if opErr != nil {
		op.Status = OpFailed
		op.Error = opErr.Error()
	}
	if err := s.ops.Append(op); err != nil {
		log.Printf("oplog append failed: %v", err)
	}
}
