package model

import "time"

// Book is a catalog title. Title doubles as a natural key for copies and
// borrow records but is not unique at the store level.
//
// Invariant: Copies == len(CopiesID), and each id has a Copy document.
type Book struct {
	ID            string         `json:"id"            bson:"id"`
	Title         string         `json:"title"         bson:"title"`
	Author        string         `json:"author"        bson:"author"`
	Category      string         `json:"category"      bson:"category"`
	Language      string         `json:"language"      bson:"language"`
	Description   string         `json:"description"   bson:"description"`
	ImageURL      string         `json:"imageUrl"      bson:"imageUrl"`
	Copies        int            `json:"copies"        bson:"copies"`
	CopiesID      []int64        `json:"copiesID"      bson:"copiesID"`
	WaitingList   []WaitingEntry `json:"waitingList"   bson:"waitingList"`
	Ratings       []Rating       `json:"ratings"       bson:"ratings"`
	Reviews       []Review       `json:"reviews"       bson:"reviews"`
	AverageRating float64        `json:"averageRating" bson:"averageRating"`
	CreatedAt     time.Time      `json:"createdAt"     bson:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"     bson:"updatedAt"`
}

// WaitingEntry is one user queued for a book. A uid appears at most once.
type WaitingEntry struct {
	UID         string    `json:"uid"         bson:"uid"`
	RequestedAt time.Time `json:"requestedAt" bson:"requestedAt"`
}

type Rating struct {
	UID       string    `json:"uid"       bson:"uid"`
	Score     int       `json:"score"     bson:"score"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Review struct {
	ID        string    `json:"id"        bson:"id"`
	UID       string    `json:"uid"       bson:"uid"`
	Name      string    `json:"name"      bson:"name"`
	Text      string    `json:"text"      bson:"text"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// WaitingIndex returns the position of uid in the waiting list, or -1.
func (b *Book) WaitingIndex(uid string) int {
	for i, e := range b.WaitingList {
		if e.UID == uid {
			return i
		}
	}
	return -1
}

// RemoveWaiting drops uid from the waiting list and reports whether it was there.
func (b *Book) RemoveWaiting(uid string) bool {
	i := b.WaitingIndex(uid)
	if i < 0 {
		return false
	}
	b.WaitingList = append(b.WaitingList[:i:i], b.WaitingList[i+1:]...)
	return true
}

// HasCopy reports whether copyID belongs to this book.
func (b *Book) HasCopy(copyID int64) bool {
	for _, id := range b.CopiesID {
		if id == copyID {
			return true
		}
	}
	return false
}

// RemoveCopyID drops copyID from CopiesID and keeps Copies in step.
func (b *Book) RemoveCopyID(copyID int64) bool {
	for i, id := range b.CopiesID {
		if id == copyID {
			b.CopiesID = append(b.CopiesID[:i:i], b.CopiesID[i+1:]...)
			b.Copies = len(b.CopiesID)
			return true
		}
	}
	return false
}

// RecomputeAverage sets AverageRating from Ratings.
func (b *Book) RecomputeAverage() {
	if len(b.Ratings) == 0 {
		b.AverageRating = 0
		return
	}
	sum := 0
	for _, r := range b.Ratings {
		sum += r.Score
	}
	b.AverageRating = float64(sum) / float64(len(b.Ratings))
}

func (b Book) Clone() Book {
	out := b
	out.CopiesID = append([]int64(nil), b.CopiesID...)
	out.WaitingList = append([]WaitingEntry(nil), b.WaitingList...)
	out.Ratings = append([]Rating(nil), b.Ratings...)
	out.Reviews = append([]Review(nil), b.Reviews...)
	return out
}
