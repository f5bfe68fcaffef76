package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, ComparePassword(hash, "correct horse battery"))
	require.ErrorIs(t, ComparePassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestHashPasswordOutOfRangeCost(t *testing.T) {
	hash, err := HashPassword("correct horse battery", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, BcryptCost, cost)
}

func TestComparePasswordCorruptHash(t *testing.T) {
	err := ComparePassword("not-a-bcrypt-hash", "whatever")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestBurnPasswordCheck(t *testing.T) {
	assert.NotPanics(t, func() {
		BurnPasswordCheck("anything")
		BurnPasswordCheck("")
	})
}
