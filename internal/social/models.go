package social

import "time"

// Profile is the public view of a user in the directory.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Title string `json:"title,omitempty"`
}

// Follow records that FollowerID follows FolloweeID.
type Follow struct {
	FollowerID string    `json:"followerId"`
	FolloweeID string    `json:"followeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}
