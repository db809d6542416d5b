package service

import (
	"sort"
	"time"

	"github.com/sakif/community-library/internal/model"
)

// ReportService builds the cross-collection librarian reports from the mirror.
type ReportService struct {
	Backend
}

func NewReportService(b Backend) *ReportService {
	return &ReportService{Backend: b}
}

// WaitingListDetail is one book's queue with contact data for each user.
type WaitingListDetail struct {
	BookID  string          `json:"bookId"`
	Title   string          `json:"title"`
	Entries []WaitingPerson `json:"entries"`
}

type WaitingPerson struct {
	Position    int       `json:"position"`
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	FamilySize  int       `json:"familySize"`
	RequestedAt time.Time `json:"requestedAt"`
}

// BorrowedDetail is one copy currently on loan.
type BorrowedDetail struct {
	CopyID    int64          `json:"copyID"`
	BookID    string         `json:"bookId"`
	Title     string         `json:"title"`
	Holder    model.Borrower `json:"holder"`
	Email     string         `json:"email"`
	StartDate *time.Time     `json:"startDate"`
	EndDate   *time.Time     `json:"endDate"`
	Overdue   bool           `json:"overdue"`
}

// WaitingListDetails lists every book with a non-empty waiting list, entries
// in queue order. Users whose document is missing are listed by uid only.
func (s *ReportService) WaitingListDetails() []WaitingListDetail {
	out := []WaitingListDetail{}
	for _, b := range s.Mirror.Books.All() {
		if len(b.WaitingList) == 0 {
			continue
		}
		d := WaitingListDetail{BookID: b.ID, Title: b.Title, Entries: make([]WaitingPerson, 0, len(b.WaitingList))}
		for i, e := range b.WaitingList {
			p := WaitingPerson{Position: i + 1, UID: e.UID, RequestedAt: e.RequestedAt}
			if u, ok := s.Mirror.Users.Get(e.UID); ok {
				p.Name = u.FullName()
				p.Email = u.Email
				p.Phone = u.Phone
				p.FamilySize = u.FamilySize
			}
			d.Entries = append(d.Entries, p)
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// BorrowedBooksDetails lists every borrowed copy with its holder and loan
// window. Overdue is set once the end date has passed.
func (s *ReportService) BorrowedBooksDetails() []BorrowedDetail {
	now := s.now()
	out := []BorrowedDetail{}
	for _, c := range s.Mirror.Copies.All() {
		if c.Available() {
			continue
		}
		d := BorrowedDetail{
			CopyID: c.CopyID,
			BookID: c.BookID,
			Title:  c.Title,
			Holder: *c.BorrowedTo,
		}
		if u, ok := s.Mirror.Users.Get(c.BorrowedTo.UID); ok {
			d.Email = u.Email
			if rec, ok := u.BorrowBooksList[c.Title]; ok {
				d.StartDate = rec.StartDate
				d.EndDate = rec.EndDate
				d.Overdue = rec.EndDate != nil && now.After(*rec.EndDate)
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CopyID < out[j].CopyID })
	return out
}
