// Package branch reconstructs linear conversations from a branched message
// set. Messages form a forest linked by parent ids; edits and retries add
// siblings on fresh branches instead of rewriting history.
//
// Nothing in this package performs I/O or returns errors. Broken parent
// links, cycles and unknown ids shorten the result instead of failing.
package branch

import (
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
)

// FirstExchangeSize is the number of messages a fresh conversation starts
// with (the greeting pair). DeleteSubtree falls back to the first message's
// branch when no more than this many messages survive.
const FirstExchangeSize = 2

// NewBranchID generates a globally unique branch identifier.
var NewBranchID = uuid.NewString

// ForkPoint tells the caller where the next message of a fork goes.
type ForkPoint struct {
	BranchID        string `json:"branchId"`
	ParentMessageID string `json:"parentMessageId"`
}

// DeleteResult is the outcome of DeleteSubtree.
type DeleteResult struct {
	Messages       []chat.Message
	ActiveBranchID string
	Removed        []string
}

// ResolveActivePath returns the oldest-first chain ending at the most
// recently appended message of activeBranchID. The result is empty when no
// message carries that branch.
func ResolveActivePath(messages []chat.Message, activeBranchID string) []chat.Message {
	if activeBranchID == "" {
		return nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Metadata.BranchID == activeBranchID {
			return walk(indexByID(messages), messages[i])
		}
	}
	return nil
}

// PathTo returns the oldest-first chain ending at messageID, or nil when
// the id is unknown.
func PathTo(messages []chat.Message, messageID string) []chat.Message {
	if messageID == "" {
		return nil
	}
	byID := indexByID(messages)
	tail, ok := byID[messageID]
	if !ok {
		return nil
	}
	return walk(byID, tail)
}

// Fork returns the branch id and parent for a message replacing edited.
// The parent is edited's own parent, so the replacement is a sibling of
// edited rather than its child.
func Fork(edited chat.Message) ForkPoint {
	return ForkPoint{
		BranchID:        NewBranchID(),
		ParentMessageID: edited.Metadata.ParentMessageID,
	}
}

// DeleteSubtree removes targetID and all of its descendants. When the
// removed messages included the active branch, a replacement is picked:
// the latest surviving sibling of the target, else a deterministic default.
// An unknown target leaves everything unchanged.
func DeleteSubtree(targetID string, messages []chat.Message, activeBranchID string) DeleteResult {
	target, ok := indexByID(messages)[targetID]
	if !ok {
		return DeleteResult{
			Messages:       slices.Clone(messages),
			ActiveBranchID: activeBranchID,
		}
	}

	doomed := descendants(targetID, messages)

	remaining := make([]chat.Message, 0, len(messages))
	removed := make([]string, 0, len(doomed))
	hitActive := false
	for _, m := range messages {
		if _, gone := doomed[m.ID]; !gone {
			remaining = append(remaining, m)
			continue
		}
		if !slices.Contains(removed, m.ID) {
			removed = append(removed, m.ID)
		}
		if activeBranchID != "" && m.Metadata.BranchID == activeBranchID {
			hitActive = true
		}
	}

	next := activeBranchID
	if hitActive {
		next = reselect(target, remaining, activeBranchID)
	}

	return DeleteResult{
		Messages:       remaining,
		ActiveBranchID: next,
		Removed:        removed,
	}
}

// Siblings locates msg among the messages sharing its parent, ordered by
// creation time and then arrival. Index is -1 when msg is not in messages.
func Siblings(messages []chat.Message, msg chat.Message) chat.SiblingInfo {
	parentID := msg.Metadata.ParentMessageID

	group := make([]chat.Message, 0, 4)
	for _, m := range messages {
		if m.Metadata.ParentMessageID == parentID {
			group = append(group, m)
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Metadata.CreatedAt < group[j].Metadata.CreatedAt
	})

	info := chat.SiblingInfo{
		Index:     -1,
		Count:     len(group),
		BranchIDs: make([]string, 0, len(group)),
	}
	for i, m := range group {
		if m.ID == msg.ID {
			info.Index = i
		}
		info.BranchIDs = append(info.BranchIDs, m.Metadata.BranchID)
	}
	return info
}

// LatestBranch returns the branch of the most recently appended message
// that has one, or "" when none does.
func LatestBranch(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if id := messages[i].Metadata.BranchID; id != "" {
			return id
		}
	}
	return ""
}

// HasBranch reports whether any message carries branchID.
func HasBranch(messages []chat.Message, branchID string) bool {
	if branchID == "" {
		return false
	}
	for _, m := range messages {
		if m.Metadata.BranchID == branchID {
			return true
		}
	}
	return false
}

func indexByID(messages []chat.Message) map[string]chat.Message {
	byID := make(map[string]chat.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}
	return byID
}

func walk(byID map[string]chat.Message, tail chat.Message) []chat.Message {
	seen := make(map[string]struct{})
	path := make([]chat.Message, 0, 16)

	current := tail
	for {
		if _, loop := seen[current.ID]; loop {
			break
		}
		seen[current.ID] = struct{}{}
		path = append(path, current)

		parentID := current.Metadata.ParentMessageID
		if parentID == "" {
			break
		}
		parent, ok := byID[parentID]
		if !ok {
			break
		}
		current = parent
	}

	slices.Reverse(path)
	return path
}

func descendants(rootID string, messages []chat.Message) map[string]struct{} {
	children := make(map[string][]string, len(messages))
	for _, m := range messages {
		if p := m.Metadata.ParentMessageID; p != "" {
			children[p] = append(children[p], m.ID)
		}
	}

	doomed := make(map[string]struct{})
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := doomed[id]; done {
			continue
		}
		doomed[id] = struct{}{}
		stack = append(stack, children[id]...)
	}
	return doomed
}

func reselect(target chat.Message, remaining []chat.Message, activeBranchID string) string {
	if sibling, ok := latestSibling(target, remaining); ok {
		return sibling.Metadata.BranchID
	}
	if len(remaining) == 0 {
		return ""
	}
	if len(remaining) <= FirstExchangeSize && remaining[0].Metadata.BranchID != "" {
		return remaining[0].Metadata.BranchID
	}
	if HasBranch(remaining, activeBranchID) {
		return activeBranchID
	}
	return LatestBranch(remaining)
}

// latestSibling picks the newest message sharing target's parent on a
// different branch. Later arrival wins ties on CreatedAt.
func latestSibling(target chat.Message, remaining []chat.Message) (chat.Message, bool) {
	var (
		best  chat.Message
		found bool
	)
	for _, m := range remaining {
		if m.Metadata.ParentMessageID != target.Metadata.ParentMessageID {
			continue
		}
		if m.Metadata.BranchID == "" || m.Metadata.BranchID == target.Metadata.BranchID {
			continue
		}
		if !found || m.Metadata.CreatedAt >= best.Metadata.CreatedAt {
			best = m
			found = true
		}
	}
	return best, found
}
