package model

import "time"

// Request is a free-text message from a member to the librarians.
type Request struct {
	ID          string    `json:"id"          bson:"id"`
	UID         string    `json:"uid"         bson:"uid"`
	Username    string    `json:"username"    bson:"username"`
	RequestText string    `json:"requestText" bson:"requestText"`
	Timestamp   time.Time `json:"timestamp"   bson:"timestamp"`
}

func (r Request) Clone() Request { return r }
