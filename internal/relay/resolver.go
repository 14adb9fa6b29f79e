package relay

import (
	"context"
	"strings"
)

// Resolver maps human-readable notebook and section names to the
// opaque ids the upstream store requires. Every resolution fetches a
// fresh listing so the result always reflects live upstream state.
// Matching is a case-insensitive exact comparison on the name field.
type Resolver struct {
	client NoteClient
}

func NewResolver(client NoteClient) *Resolver {
	return &Resolver{client: client}
}

// ResolveNotebook returns the id of the notebook with the given name.
// Zero matches fail with *NotFoundError, two or more with
// *AmbiguousNameError carrying all matched ids. The resolver never
// picks a match silently: a guess here would route writes into the
// wrong notebook.
func (r *Resolver) ResolveNotebook(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidInput
	}
	notebooks, err := r.client.ListNotebooks(ctx)
	if err != nil {
		return "", err
	}
	var matched []string
	for _, nb := range notebooks {
		if strings.EqualFold(nb.Name, name) {
			matched = append(matched, nb.ID)
		}
	}
	return pickResolved("notebook", name, matched)
}

// ResolveSection returns the id of the named section within the given
// notebook, with the same matching policy as ResolveNotebook.
func (r *Resolver) ResolveSection(ctx context.Context, notebookID, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidInput
	}
	sections, err := r.client.ListSections(ctx, notebookID)
	if err != nil {
		return "", err
	}
	var matched []string
	for _, sec := range sections {
		if strings.EqualFold(sec.Name, name) {
			matched = append(matched, sec.ID)
		}
	}
	return pickResolved("section", name, matched)
}

func pickResolved(kind, name string, matched []string) (string, error) {
	switch len(matched) {
	case 0:
		return "", &NotFoundError{Kind: kind, Name: name}
	case 1:
		return matched[0], nil
	default:
		return "", &AmbiguousNameError{Kind: kind, Name: name, MatchedIDs: matched}
	}
}
