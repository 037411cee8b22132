package chat

import "time"

// Session captures one recipe conversation bound to a chef.
type Session struct {
	ID             string    `json:"id"`
	ChefID         string    `json:"chefId"`
	Title          string    `json:"title,omitempty"`
	ActiveBranchID string    `json:"activeBranchId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot is the unit handed to persistence: a session plus every
// message ever produced for it, in arrival order.
type Snapshot struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// SiblingInfo locates a message among the alternatives sharing its parent.
type SiblingInfo struct {
	Index     int      `json:"index"`
	Count     int      `json:"count"`
	BranchIDs []string `json:"branchIds"`
}

// PathEntry is a message on the active path together with its
// branch-navigation data.
type PathEntry struct {
	Message  Message     `json:"message"`
	Siblings SiblingInfo `json:"siblings"`
}
