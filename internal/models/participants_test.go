package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "3_7", PairKey(7, 3))
	assert.Equal(t, PairKey(7, 3), PairKey(3, 7))
	// numeric, not lexicographic
	assert.Equal(t, "9_10", PairKey(10, 9))
}

func TestNormalizeParticipants(t *testing.T) {
	assert.Equal(t, "2_5_11", NormalizeParticipants(11, 2, 5, 2, 0))
	assert.Equal(t, PairKey(4, 1), NormalizeParticipants(4, 1))
}

func TestNewDirectConversation(t *testing.T) {
	conv, err := NewDirectConversation(8, 3)
	require.NoError(t, err)
	assert.Equal(t, ConversationTypeDirect, conv.Type)
	assert.Equal(t, "3_8", *conv.ParticipantsNormalized)
	assert.Equal(t, uint(8), conv.CreatedBy)
	assert.ElementsMatch(t, []uint{3, 8}, conv.ParticipantIDs())
	for _, m := range conv.Members {
		assert.Equal(t, MemberRoleMember, m.Role)
	}

	_, err = NewDirectConversation(5, 5)
	assert.True(t, HasCode(err, CodeBadRequest))
}

func TestNewGroupConversation(t *testing.T) {
	conv, err := NewGroupConversation(1, "crew", "", []uint{2, 3, 2, 1})
	require.NoError(t, err)
	assert.Nil(t, conv.ParticipantsNormalized)
	assert.Len(t, conv.Members, 3)
	assert.Equal(t, MemberRoleAdmin, conv.RoleOf(1))
	assert.Equal(t, MemberRoleMember, conv.RoleOf(3))

	_, err = NewGroupConversation(1, "", "", []uint{2})
	assert.True(t, HasCode(err, CodeValidation))
	_, err = NewGroupConversation(1, "solo", "", nil)
	assert.True(t, HasCode(err, CodeValidation))
}
