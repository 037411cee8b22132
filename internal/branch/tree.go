package branch

import (
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
)

// Resolver owns one conversation: an arena of messages keyed by id, their
// arrival order, and the active branch id. It is not safe for concurrent
// use; the owner serialises access.
type Resolver struct {
	order  []string
	byID   map[string]chat.Message
	active string
}

// NewResolver loads messages in arrival order. An empty or unknown
// activeBranchID defaults to the branch of the most recent message.
func NewResolver(messages []chat.Message, activeBranchID string) *Resolver {
	r := &Resolver{
		order: make([]string, 0, len(messages)),
		byID:  make(map[string]chat.Message, len(messages)),
	}
	for _, m := range messages {
		r.Upsert(m)
	}
	if !r.HasBranch(activeBranchID) {
		activeBranchID = LatestBranch(r.Messages())
	}
	r.active = activeBranchID
	return r
}

// ActiveBranch returns the current active branch id.
func (r *Resolver) ActiveBranch() string {
	return r.active
}

// SetActiveBranch switches the active branch. Unknown branches are
// rejected and leave the current selection in place.
func (r *Resolver) SetActiveBranch(branchID string) bool {
	if !r.HasBranch(branchID) {
		return false
	}
	r.active = branchID
	return true
}

// HasBranch reports whether any message carries branchID.
func (r *Resolver) HasBranch(branchID string) bool {
	if branchID == "" {
		return false
	}
	for _, m := range r.byID {
		if m.Metadata.BranchID == branchID {
			return true
		}
	}
	return false
}

// HasChildOn reports whether parentID already has a child on branchID.
// Appending a second one would hide the first from ResolveActivePath.
func (r *Resolver) HasChildOn(parentID, branchID string) bool {
	for _, m := range r.byID {
		if m.Metadata.ParentMessageID == parentID && m.Metadata.BranchID == branchID {
			return true
		}
	}
	return false
}

// Upsert appends msg, or replaces the stored message with the same id in
// place so its arrival position is kept.
func (r *Resolver) Upsert(msg chat.Message) {
	if _, exists := r.byID[msg.ID]; !exists {
		r.order = append(r.order, msg.ID)
	}
	r.byID[msg.ID] = msg.Clone()
}

// AppendText extends the trailing text part of a message, adding one if
// needed. It reports false for unknown ids.
func (r *Resolver) AppendText(messageID, delta string) bool {
	msg, ok := r.byID[messageID]
	if !ok {
		return false
	}
	msg = msg.Clone()
	if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Type == chat.PartText {
		msg.Parts[n-1].Text += delta
	} else {
		msg.Parts = append(msg.Parts, chat.TextPart(delta))
	}
	r.byID[messageID] = msg
	return true
}

// Get looks a message up by id.
func (r *Resolver) Get(messageID string) (chat.Message, bool) {
	msg, ok := r.byID[messageID]
	if !ok {
		return chat.Message{}, false
	}
	return msg.Clone(), true
}

// Len returns the number of stored messages.
func (r *Resolver) Len() int {
	return len(r.order)
}

// Messages returns a copy of the collection in arrival order.
func (r *Resolver) Messages() []chat.Message {
	out := make([]chat.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Path resolves the active branch.
func (r *Resolver) Path() []chat.Message {
	return ResolveActivePath(r.Messages(), r.active)
}

// PathTo resolves the chain ending at messageID.
func (r *Resolver) PathTo(messageID string) []chat.Message {
	return PathTo(r.Messages(), messageID)
}

// Siblings locates a stored message among its alternatives.
func (r *Resolver) Siblings(messageID string) (chat.SiblingInfo, bool) {
	msg, ok := r.byID[messageID]
	if !ok {
		return chat.SiblingInfo{}, false
	}
	return Siblings(r.Messages(), msg), true
}

// View returns the active path with per-message sibling information.
func (r *Resolver) View() []chat.PathEntry {
	all := r.Messages()
	path := ResolveActivePath(all, r.active)

	entries := make([]chat.PathEntry, 0, len(path))
	for _, m := range path {
		entries = append(entries, chat.PathEntry{
			Message:  m,
			Siblings: Siblings(all, m),
		})
	}
	return entries
}

// Delete removes messageID with its descendants and returns the removed
// ids. The active branch is reselected when it was part of the subtree.
func (r *Resolver) Delete(messageID string) []string {
	result := DeleteSubtree(messageID, r.Messages(), r.active)
	if len(result.Removed) == 0 {
		return nil
	}

	r.order = r.order[:0]
	r.byID = make(map[string]chat.Message, len(result.Messages))
	for _, m := range result.Messages {
		r.Upsert(m)
	}
	r.active = result.ActiveBranchID
	return result.Removed
}
