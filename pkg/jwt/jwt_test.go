package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute)

	token, err := manager.GenerateToken("user-1", "Alice", "en")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, "en", claims.Language)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute)
	other := NewManager("another-secret-key-also-32-chars!!!", 15*time.Minute)

	token, err := manager.GenerateToken("user-1", "Alice", "en")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", -1*time.Minute)

	token, err := manager.GenerateToken("user-1", "Alice", "en")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewManager("test-secret-key-at-least-32-chars!!", 15*time.Minute)

	_, err := manager.ValidateToken("not-a-token")
	assert.Error(t, err)
}
