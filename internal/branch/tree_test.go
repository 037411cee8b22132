package branch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/recipe-chat/backend/internal/branch"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
)

func TestNewResolverDefaultsToLatestBranch(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "")
	assert.Equal(t, "B", r.ActiveBranch())

	r = branch.NewResolver(editedConversation(), "unknown")
	assert.Equal(t, "B", r.ActiveBranch())

	r = branch.NewResolver(editedConversation(), "A")
	assert.Equal(t, "A", r.ActiveBranch())
}

func TestResolverSetActiveBranch(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "A")

	assert.False(t, r.SetActiveBranch("nope"))
	assert.Equal(t, "A", r.ActiveBranch())

	assert.True(t, r.SetActiveBranch("B"))
	assert.Equal(t, []string{"1", "3"}, ids(r.Path()))
}

func TestResolverUpsertKeepsArrivalOrder(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "A")

	updated := msg("2", "A", "1", 200)
	updated.Parts = []chat.Part{chat.TextPart("rewritten")}
	r.Upsert(updated)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"1", "2", "3"}, ids(r.Messages()))
	got, ok := r.Get("2")
	require.True(t, ok)
	assert.Equal(t, "rewritten", got.Text())
}

func TestResolverAppendText(t *testing.T) {
	r := branch.NewResolver(nil, "")
	r.Upsert(chat.Message{
		ID:       "reply",
		Role:     chat.RoleAssistant,
		Metadata: chat.Metadata{BranchID: "A"},
	})

	require.True(t, r.AppendText("reply", "Preheat "))
	require.True(t, r.AppendText("reply", "the oven."))
	assert.False(t, r.AppendText("missing", "x"))

	got, _ := r.Get("reply")
	assert.Len(t, got.Parts, 1)
	assert.Equal(t, "Preheat the oven.", got.Text())
}

func TestResolverMessagesAreCopies(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "A")
	out := r.Messages()
	out[0].Parts[0].Text = "mutated"

	got, _ := r.Get("1")
	assert.Equal(t, "message 1", got.Text())
}

func TestResolverDeleteReselectsBranch(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "A")

	removed := r.Delete("2")

	assert.Equal(t, []string{"2"}, removed)
	assert.Equal(t, "B", r.ActiveBranch())
	assert.Equal(t, []string{"1", "3"}, ids(r.Path()))
	assert.Nil(t, r.Delete("2"))
}

func TestResolverView(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "B")

	view := r.View()
	require.Len(t, view, 2)
	assert.Equal(t, "1", view[0].Message.ID)
	assert.Equal(t, 1, view[0].Siblings.Count)
	assert.Equal(t, "3", view[1].Message.ID)
	assert.Equal(t, 1, view[1].Siblings.Index)
	assert.Equal(t, 2, view[1].Siblings.Count)
	assert.Equal(t, []string{"A", "B"}, view[1].Siblings.BranchIDs)
}

func TestResolverHasChildOn(t *testing.T) {
	r := branch.NewResolver(editedConversation(), "A")

	assert.True(t, r.HasChildOn("1", "A"))
	assert.True(t, r.HasChildOn("1", "B"))
	assert.False(t, r.HasChildOn("1", "C"))
	assert.False(t, r.HasChildOn("2", "A"))
}
