package domain

import (
	"strconv"
	"strings"
)

// PageSelection is a validated, ordered set of zero-based page indices.
type PageSelection struct {
	Indices         []int `json:"indices"`
	SourcePageCount int   `json:"source_page_count"`
}

// Len returns the number of selected pages.
func (s *PageSelection) Len() int {
	return len(s.Indices)
}

// PageNumbers renders the selection as 1-based page numbers.
func (s *PageSelection) PageNumbers() []string {
	out := make([]string, len(s.Indices))
	for i, idx := range s.Indices {
		out[i] = strconv.Itoa(idx + 1)
	}
	return out
}

// Contains reports whether the zero-based index is selected.
func (s *PageSelection) Contains(index int) bool {
	for _, idx := range s.Indices {
		if idx == index {
			return true
		}
	}
	return false
}

// SelectorOptions tunes ParsePageSelector for the calling operation.
type SelectorOptions struct {
	// AllowDuplicates keeps repeated pages verbatim instead of collapsing them
	// to their first occurrence.
	AllowDuplicates bool
	// AllowEmpty treats an empty expression as every page in original order.
	AllowEmpty bool
	// Field names the request field in validation errors. Defaults to "pages".
	Field string
}

// AllPages selects every page in ascending order.
func AllPages(pageCount int) *PageSelection {
	indices := make([]int, pageCount)
	for i := range indices {
		indices[i] = i
	}
	return &PageSelection{Indices: indices, SourcePageCount: pageCount}
}

// ParsePageSelector parses a 1-based expression such as "1,3,5-7" against pageCount.
// Tokens are single pages or inclusive ascending ranges; whitespace and empty tokens
// are ignored. Any out-of-range or malformed token rejects the whole expression.
func ParsePageSelector(expr string, pageCount int, opts SelectorOptions) (*PageSelection, error) {
	field := opts.Field
	if field == "" {
		field = "pages"
	}
	if pageCount < 1 {
		return nil, invalid(field, "document has no pages")
	}

	tokens := strings.Split(expr, ",")
	indices := make([]int, 0, len(tokens))
	seen := make(map[int]bool)

	add := func(idx int) {
		if !opts.AllowDuplicates {
			if seen[idx] {
				return
			}
			seen[idx] = true
		}
		indices = append(indices, idx)
	}

	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		start, end, err := parseToken(token, pageCount, field)
		if err != nil {
			return nil, err
		}
		for p := start; p <= end; p++ {
			add(p - 1)
		}
	}

	if len(indices) == 0 {
		if opts.AllowEmpty {
			return AllPages(pageCount), nil
		}
		return nil, invalid(field, "at least one page must be selected")
	}

	return &PageSelection{Indices: indices, SourcePageCount: pageCount}, nil
}

// parseToken returns the inclusive 1-based bounds of a single token.
func parseToken(token string, pageCount int, field string) (int, int, error) {
	parts := strings.Split(token, "-")
	switch len(parts) {
	case 1:
		n, err := parsePageNumber(parts[0], token, pageCount, field)
		if err != nil {
			return 0, 0, err
		}
		return n, n, nil
	case 2:
		start, err := parsePageNumber(parts[0], token, pageCount, field)
		if err != nil {
			return 0, 0, err
		}
		end, err := parsePageNumber(parts[1], token, pageCount, field)
		if err != nil {
			return 0, 0, err
		}
		if start > end {
			return 0, 0, invalid(field, "range %q is reversed", token)
		}
		return start, end, nil
	default:
		return 0, 0, invalid(field, "malformed token %q", token)
	}
}

func parsePageNumber(s, token string, pageCount int, field string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, invalid(field, "malformed token %q", token)
	}
	if n < 1 || n > pageCount {
		return 0, invalid(field, "page %d in %q is out of range 1-%d", n, token, pageCount)
	}
	return n, nil
}

// SelectionFromIndices validates an explicit zero-based page order.
// An empty list selects every page in original order.
func SelectionFromIndices(indices []int, pageCount int, allowDuplicates bool) (*PageSelection, error) {
	if pageCount < 1 {
		return nil, invalid("page_indices", "document has no pages")
	}
	if len(indices) == 0 {
		return AllPages(pageCount), nil
	}

	out := make([]int, 0, len(indices))
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= pageCount {
			return nil, invalid("page_indices", "index %d is out of range 0-%d", idx, pageCount-1)
		}
		if !allowDuplicates {
			if seen[idx] {
				continue
			}
			seen[idx] = true
		}
		out = append(out, idx)
	}
	return &PageSelection{Indices: out, SourcePageCount: pageCount}, nil
}
