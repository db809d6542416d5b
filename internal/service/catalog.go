package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/model"
)

// Recommender returns candidate titles from an outside catalog.
type Recommender interface {
	Titles(ctx context.Context) ([]string, error)
}

// CatalogService answers read-only queries from the mirror.
type CatalogService struct {
	Backend
	Recommender Recommender // optional
}

func NewCatalogService(b Backend, r Recommender) *CatalogService {
	return &CatalogService{Backend: b, Recommender: r}
}

// BookFilter narrows ListBooks. Empty fields match everything; matching is
// case-insensitive. Query matches title or author as a substring.
type BookFilter struct {
	Query    string
	Category string
	Author   string
}

func (f BookFilter) match(b *model.Book) bool {
	if f.Category != "" && !strings.EqualFold(b.Category, f.Category) {
		return false
	}
	if f.Author != "" && !strings.EqualFold(b.Author, f.Author) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q)
	}
	return true
}

// ListBooks returns books matching filter, ordered by title.
func (s *CatalogService) ListBooks(filter BookFilter) []model.Book {
	all := s.Mirror.Books.All()
	out := make([]model.Book, 0, len(all))
	for i := range all {
		if filter.match(&all[i]) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

func (s *CatalogService) GetBook(id string) (*model.Book, error) {
	b, ok := s.Mirror.Books.Get(id)
	if !ok {
		return nil, apperror.NotFound("book", id)
	}
	return &b, nil
}

// FindBookByTitle returns the first book whose title equals title, ignoring
// case and surrounding space.
func (s *CatalogService) FindBookByTitle(title string) (*model.Book, error) {
	want := normalizeTitle(title)
	for _, b := range s.Mirror.Books.All() {
		if normalizeTitle(b.Title) == want {
			return &b, nil
		}
	}
	return nil, apperror.NotFound("book", title)
}

func normalizeTitle(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

// ListCopies returns every copy ordered by copy id.
func (s *CatalogService) ListCopies() []model.Copy {
	copies := s.Mirror.Copies.All()
	sortCopies(copies)
	return copies
}

// CopiesByTitle returns the copies whose title is exactly title.
func (s *CatalogService) CopiesByTitle(title string) []model.Copy {
	out := []model.Copy{}
	for _, c := range s.Mirror.Copies.All() {
		if c.Title == title {
			out = append(out, c)
		}
	}
	sortCopies(out)
	return out
}

// AvailableCopies returns the book's copies that nobody holds.
func (s *CatalogService) AvailableCopies(bookID string) ([]model.Copy, error) {
	b, err := s.GetBook(bookID)
	if err != nil {
		return nil, err
	}
	out := []model.Copy{}
	for _, id := range b.CopiesID {
		c, ok := s.Mirror.Copies.Get(model.CopyKey(id))
		if ok && c.Available() {
			out = append(out, c)
		}
	}
	return out, nil
}

func sortCopies(copies []model.Copy) {
	sort.Slice(copies, func(i, j int) bool { return copies[i].CopyID < copies[j].CopyID })
}

// Categories returns the distinct non-blank categories, sorted.
func (s *CatalogService) Categories() []string {
	return s.distinct(func(b *model.Book) string { return b.Category })
}

// Authors returns the distinct non-blank authors, sorted.
func (s *CatalogService) Authors() []string {
	return s.distinct(func(b *model.Book) string { return b.Author })
}

func (s *CatalogService) distinct(field func(*model.Book) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, b := range s.Mirror.Books.All() {
		v := strings.TrimSpace(field(&b))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Recommendations resolves the recommender's titles against the catalog.
// Any recommender failure degrades to an empty list.
func (s *CatalogService) Recommendations(ctx context.Context) []model.Book {
	out := []model.Book{}
	if s.Recommender == nil {
		return out
	}

	titles, err := s.Recommender.Titles(ctx)
	if err != nil {
		s.Logger.Warn("recommendations unavailable", slog.String("error", err.Error()))
		return out
	}

	byTitle := make(map[string]model.Book)
	for _, b := range s.Mirror.Books.All() {
		key := normalizeTitle(b.Title)
		if _, ok := byTitle[key]; !ok {
			byTitle[key] = b
		}
	}

	seen := make(map[string]struct{})
	for _, t := range titles {
		b, ok := byTitle[normalizeTitle(t)]
		if !ok {
			continue
		}
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		out = append(out, b)
	}
	return out
}
