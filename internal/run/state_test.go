package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimIsFirstWins(t *testing.T) {
	s := NewState()

	assert.True(t, s.Claim("INBOX", 1))
	assert.False(t, s.Claim("INBOX", 1))
	assert.True(t, s.Claim("Lists", 1), "same UID in another mailbox is a different message")

	assert.True(t, s.Claimed("INBOX", 1))
	assert.False(t, s.Claimed("INBOX", 2))
	assert.Equal(t, 2, s.ClaimedCount())
}

func TestTouchedKeepsFirstSelectionOrder(t *testing.T) {
	s := NewState()

	s.Touch("INBOX")
	s.Touch("Lists")
	s.Touch("INBOX")
	s.Claim("Receipts", 9)

	assert.Equal(t, []string{"INBOX", "Lists", "Receipts"}, s.Touched())
	assert.True(t, s.IsTouched("Lists"))
	assert.False(t, s.IsTouched("Archive"))
}

func TestStatesHaveDistinctIDs(t *testing.T) {
	assert.NotEqual(t, NewState().ID, NewState().ID)
	assert.Equal(t, "INBOX/7", Key{Mailbox: "INBOX", UID: 7}.String())
}
