package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sakif/community-library/internal/model"
	"github.com/sakif/community-library/internal/repository"
)

// Violation kinds reported by Verify.
const (
	ViolationCopyCount       = "copy_count_mismatch"
	ViolationDanglingCopy    = "dangling_copy_id"
	ViolationOrphanCopy      = "orphan_copy"
	ViolationSharedCopyID    = "shared_copy_id"
	ViolationTitleDrift      = "title_drift"
	ViolationDuplicateWaiter = "duplicate_waiting_entry"
	ViolationHolderNoRecord  = "holder_without_accepted_record"
	ViolationUnknownHolder   = "unknown_holder"
	ViolationPendingNoWaiter = "pending_record_without_waiting_entry"
)

type Violation struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Detail     string `json:"detail"`
}

type IntegrityReport struct {
	CheckedAt  time.Time   `json:"checkedAt"`
	Books      int         `json:"books"`
	Copies     int         `json:"copies"`
	Users      int         `json:"users"`
	Violations []Violation `json:"violations"`
}

// OK reports whether no violation was found.
func (r *IntegrityReport) OK() bool { return len(r.Violations) == 0 }

// IntegrityService checks the cross-document invariants directly against the
// store, not the mirror.
type IntegrityService struct {
	Backend
}

func NewIntegrityService(b Backend) *IntegrityService {
	return &IntegrityService{Backend: b}
}

// Verify reads one consistent snapshot and lists every invariant violation.
func (s *IntegrityService) Verify(ctx context.Context) (*IntegrityReport, error) {
	books := map[string]model.Book{}
	copies := map[string]model.Copy{}
	users := map[string]model.User{}

	err := s.Store.View(ctx, func(tx repository.Tx) error {
		if err := scanAll(tx, repository.Books, books); err != nil {
			return err
		}
		if err := scanAll(tx, repository.Copies, copies); err != nil {
			return err
		}
		return scanAll(tx, repository.Users, users)
	})
	if err != nil {
		return nil, fmt.Errorf("verifying store: %w", err)
	}

	report := &IntegrityReport{
		CheckedAt:  s.now(),
		Books:      len(books),
		Copies:     len(copies),
		Users:      len(users),
		Violations: []Violation{},
	}
	add := func(kind, coll, id, format string, args ...any) {
		report.Violations = append(report.Violations, Violation{
			Kind: kind, Collection: coll, ID: id, Detail: fmt.Sprintf(format, args...),
		})
	}

	owner := map[int64]string{}
	queued := map[string]map[string]bool{} // title -> uids waiting on any book of that title
	for _, b := range sortedValues(books) {
		if b.Copies != len(b.CopiesID) {
			add(ViolationCopyCount, repository.Books, b.ID,
				"copies is %d but copiesID has %d entries", b.Copies, len(b.CopiesID))
		}
		for _, id := range b.CopiesID {
			if other, ok := owner[id]; ok && other != b.ID {
				add(ViolationSharedCopyID, repository.Books, b.ID, "copy %d is also listed by book %s", id, other)
			}
			owner[id] = b.ID

			c, ok := copies[model.CopyKey(id)]
			if !ok {
				add(ViolationDanglingCopy, repository.Books, b.ID, "copy %d has no copy document", id)
				continue
			}
			if c.Title != b.Title {
				add(ViolationTitleDrift, repository.Copies, model.CopyKey(id),
					"copy title %q differs from book title %q", c.Title, b.Title)
			}
		}

		seen := map[string]bool{}
		for _, e := range b.WaitingList {
			if seen[e.UID] {
				add(ViolationDuplicateWaiter, repository.Books, b.ID, "user %s is queued more than once", e.UID)
			}
			seen[e.UID] = true
			if queued[b.Title] == nil {
				queued[b.Title] = map[string]bool{}
			}
			queued[b.Title][e.UID] = true
		}
	}

	for _, c := range sortedValues(copies) {
		key := model.CopyKey(c.CopyID)
		if _, ok := owner[c.CopyID]; !ok {
			add(ViolationOrphanCopy, repository.Copies, key, "no book lists copy %d", c.CopyID)
		}
		if c.Available() {
			continue
		}
		u, ok := users[c.BorrowedTo.UID]
		if !ok {
			add(ViolationUnknownHolder, repository.Copies, key, "holder %s does not exist", c.BorrowedTo.UID)
			continue
		}
		if rec, ok := u.BorrowBooksList[c.Title]; !ok || rec.Status != model.StatusAccepted {
			add(ViolationHolderNoRecord, repository.Copies, key,
				"holder %s has no accepted record for %q", u.UID, c.Title)
		}
	}

	for _, u := range sortedValues(users) {
		titles := make([]string, 0, len(u.BorrowBooksList))
		for title := range u.BorrowBooksList {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		for _, title := range titles {
			if u.BorrowBooksList[title].Status == model.StatusPending && !queued[title][u.UID] {
				add(ViolationPendingNoWaiter, repository.Users, u.UID,
					"pending record for %q but no book of that title queues the user", title)
			}
		}
	}

	level := slog.LevelInfo
	if !report.OK() {
		level = slog.LevelWarn
	}
	s.Logger.Log(ctx, level, "integrity check finished",
		slog.Int("books", report.Books),
		slog.Int("copies", report.Copies),
		slog.Int("users", report.Users),
		slog.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func scanAll[T any](tx repository.Tx, collection string, dst map[string]T) error {
	return tx.Scan(collection, func(id string, _ int64, decode repository.DecodeFunc) error {
		var doc T
		if err := decode(&doc); err != nil {
			return err
		}
		dst[id] = doc
		return nil
	})
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
