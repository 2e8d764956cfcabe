package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parsascontentcorner/liro/internal/models"
)

// AssertLinkedAccountEqual compares the persisted fields of two linked accounts.
// Timestamps are compared with a tolerance since the database sets them.
func AssertLinkedAccountEqual(t *testing.T, expected, actual *models.LinkedAccount) {
	t.Helper()

	assert.Equal(t, expected.DiscordID, actual.DiscordID, "DiscordID should match")
	assert.Equal(t, expected.LichessID, actual.LichessID, "LichessID should match")
	assert.Equal(t, expected.LichessUsername, actual.LichessUsername, "LichessUsername should match")
	assert.Equal(t, expected.AccessToken, actual.AccessToken, "AccessToken should match")
	assert.Equal(t, expected.TokenType, actual.TokenType, "TokenType should match")
	assert.Equal(t, expected.Rating, actual.Rating, "Rating should match")

	if expected.TokenExpiry.Valid {
		assert.True(t, actual.TokenExpiry.Valid, "TokenExpiry should be set")
		AssertTimeAlmostEqual(t, expected.TokenExpiry.Time, actual.TokenExpiry.Time, 2*time.Second)
	}
}

// AssertTimeAlmostEqual checks that two times are within delta of each other.
func AssertTimeAlmostEqual(t *testing.T, expected, actual time.Time, delta time.Duration) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.LessOrEqual(t, diff, delta, "times should be within %v of each other (expected: %v, actual: %v)", delta, expected, actual)
}
