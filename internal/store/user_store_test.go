package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/auth"
	"github.com/queuesync/queuesync/internal/store"
	"github.com/queuesync/queuesync/internal/testutil"
)

func TestUserStore_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)

	passwordHash, err := auth.HashPassword("password123")
	require.NoError(t, err)

	t.Run("Create User Success", func(t *testing.T) {
		user, err := s.CreateUser("testuser", passwordHash, "user")
		require.NoError(t, err)
		assert.Equal(t, "testuser", user.Username)
	})

	t.Run("Create User with Duplicate Username", func(t *testing.T) {
		_, err := s.CreateUser("testuser", passwordHash, "user")
		assert.Error(t, err)
	})

	t.Run("Get User By Username", func(t *testing.T) {
		user, err := s.GetUserByUsername("testuser")
		require.NoError(t, err)
		assert.Equal(t, "testuser", user.Username)
		assert.True(t, auth.CheckPasswordHash("password123", user.PasswordHash))
	})

	t.Run("Get Non-existent User", func(t *testing.T) {
		_, err := s.GetUserByUsername("nonexistent")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Count", func(t *testing.T) {
		n, err := s.CountUsers()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestUserStore_Sessions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	user, err := s.CreateUser("sessionuser", "hash", "admin")
	require.NoError(t, err)

	token, err := s.CreateSession(user.ID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	got, err := s.GetUserFromSession(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, got.IsAdmin())

	require.NoError(t, s.DeleteSession(token))
	_, err = s.GetUserFromSession(token)
	assert.ErrorIs(t, err, store.ErrInvalidSession)

	t.Run("Expired", func(t *testing.T) {
		_, err := db.Exec("INSERT INTO sessions (token, user_id, expiry) VALUES ('old', ?, datetime('now', '-1 day'))", user.ID)
		require.NoError(t, err)
		_, err = s.GetUserFromSession("old")
		assert.ErrorIs(t, err, store.ErrSessionExpired)
	})

	t.Run("Deleted user drops sessions", func(t *testing.T) {
		token, err := s.CreateSession(user.ID)
		require.NoError(t, err)
		require.NoError(t, s.DeleteUser(user.ID))
		_, err = s.GetUserFromSession(token)
		assert.Error(t, err)
	})
}

func TestUserStore_Manage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	bob, err := s.CreateUser("bob", "hash", "user")
	require.NoError(t, err)
	_, err = s.CreateUser("alice", "hash", "admin")
	require.NoError(t, err)

	users, err := s.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Empty(t, users[0].PasswordHash)

	require.NoError(t, s.UpdateUser(bob.ID, "robert", "admin"))
	got, err := s.GetUserByID(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "robert", got.Username)
	assert.True(t, got.IsAdmin())

	assert.ErrorIs(t, s.UpdateUser(999, "ghost", "user"), store.ErrNotFound)
	assert.Error(t, s.UpdateUser(bob.ID, "alice", "user"))

	token, err := s.CreateSession(bob.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserPassword(bob.ID, "newhash"))
	_, err = s.GetUserFromSession(token)
	assert.ErrorIs(t, err, store.ErrInvalidSession)
	got, err = s.GetUserByID(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)

	assert.ErrorIs(t, s.UpdateUserPassword(999, "x"), store.ErrNotFound)
}
