// Package model defines the documents stored by the library: users, books,
// copies and free-text requests, plus the records embedded inside them.
//
// Struct tags carry both `json` (REST bodies, sqlite/badger document bodies)
// and `bson` (the mongo backend) names, kept identical so a document reads the
// same in every store.
package model

import "time"

// MaxNotifications is how many notifications a user document retains.
// Appending beyond it drops the oldest entry.
const MaxNotifications = 10

// LoanPeriod is the fixed length of an accepted loan.
const LoanPeriod = 14 * 24 * time.Hour

// BorrowStatus is the state of a borrow record.
type BorrowStatus string

const (
	StatusPending  BorrowStatus = "pending"
	StatusAccepted BorrowStatus = "accepted"
)

// User is a library member. UID is issued by the external identity provider.
//
// BorrowBooksList is keyed by book title, so a user holds at most one active
// borrow record per title.
type User struct {
	UID             string                  `json:"uid"             bson:"uid"`
	Email           string                  `json:"email"           bson:"email"`
	DisplayName     string                  `json:"displayName"     bson:"displayName"`
	FirstName       string                  `json:"firstName"       bson:"firstName"`
	LastName        string                  `json:"lastName"        bson:"lastName"`
	Phone           string                  `json:"phone"           bson:"phone"`
	FamilySize      int                     `json:"familySize"      bson:"familySize"`
	IsManager       bool                    `json:"isManager"       bson:"isManager"`
	Notifications   []Notification          `json:"notifications"   bson:"notifications"`
	BorrowBooksList map[string]BorrowRecord `json:"borrowBooksList" bson:"borrowBooksList"`
	HistoryBooks    []HistoryEntry          `json:"historyBooks"    bson:"historyBooks"`
	CreatedAt       time.Time               `json:"createdAt"       bson:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"       bson:"updatedAt"`
}

// BorrowRecord tracks one title from request to acceptance.
// StartDate and EndDate stay nil while the record is pending.
type BorrowRecord struct {
	Status      BorrowStatus `json:"status"      bson:"status"`
	RequestDate time.Time    `json:"requestDate" bson:"requestDate"`
	StartDate   *time.Time   `json:"startDate"   bson:"startDate"`
	EndDate     *time.Time   `json:"endDate"     bson:"endDate"`
}

// HistoryEntry is a completed loan.
type HistoryEntry struct {
	CopyID      int64      `json:"copyID"      bson:"copyID"`
	Title       string     `json:"title"       bson:"title"`
	RequestDate time.Time  `json:"requestDate" bson:"requestDate"`
	StartDate   *time.Time `json:"startDate"   bson:"startDate"`
	ReturnDate  time.Time  `json:"returnDate"  bson:"returnDate"`
}

type Notification struct {
	ID        string    `json:"id"        bson:"id"`
	Message   string    `json:"message"   bson:"message"`
	Read      bool      `json:"read"      bson:"read"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// FullName joins first and last name, falling back to the display name.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.DisplayName
	}
}

// Borrower returns the snapshot stored on a copy while this user holds it.
func (u *User) Borrower() *Borrower {
	return &Borrower{
		UID:        u.UID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		FamilySize: u.FamilySize,
	}
}

// PushNotification appends n and trims the list to the newest MaxNotifications.
func (u *User) PushNotification(n Notification) {
	u.Notifications = append(u.Notifications, n)
	if over := len(u.Notifications) - MaxNotifications; over > 0 {
		u.Notifications = append([]Notification(nil), u.Notifications[over:]...)
	}
}

// Clone returns a deep copy; the mirror hands these out so callers can never
// mutate cached state.
func (u User) Clone() User {
	out := u
	out.Notifications = make([]Notification, len(u.Notifications))
	copy(out.Notifications, u.Notifications)
	out.HistoryBooks = make([]HistoryEntry, len(u.HistoryBooks))
	for i, h := range u.HistoryBooks {
		h.StartDate = cloneTime(h.StartDate)
		out.HistoryBooks[i] = h
	}
	if u.BorrowBooksList != nil {
		out.BorrowBooksList = make(map[string]BorrowRecord, len(u.BorrowBooksList))
		for title, rec := range u.BorrowBooksList {
			rec.StartDate = cloneTime(rec.StartDate)
			rec.EndDate = cloneTime(rec.EndDate)
			out.BorrowBooksList[title] = rec
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
