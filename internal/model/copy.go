package model

import "strconv"

// Copy is one borrowable unit of a book. It is available iff BorrowedTo is nil.
type Copy struct {
	CopyID     int64     `json:"copyID"     bson:"copyID"`
	BookID     string    `json:"bookId"     bson:"bookId"`
	Title      string    `json:"title"      bson:"title"`
	BorrowedTo *Borrower `json:"borrowedTo" bson:"borrowedTo"`
}

// Borrower is the holder snapshot denormalized onto a borrowed copy.
type Borrower struct {
	UID        string `json:"uid"        bson:"uid"`
	FirstName  string `json:"firstName"  bson:"firstName"`
	LastName   string `json:"lastName"   bson:"lastName"`
	Phone      string `json:"phone"      bson:"phone"`
	FamilySize int    `json:"familySize" bson:"familySize"`
}

func (c *Copy) Available() bool { return c.BorrowedTo == nil }

// CopyKey is the document id of a copy in the store.
func CopyKey(copyID int64) string {
	return strconv.FormatInt(copyID, 10)
}

func (c Copy) Clone() Copy {
	out := c
	if c.BorrowedTo != nil {
		b := *c.BorrowedTo
		out.BorrowedTo = &b
	}
	return out
}
