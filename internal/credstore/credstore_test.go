package credstore

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestLoad_Empty(t *testing.T) {
	s, _ := openTemp(t)

	c, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Credentials{}, c)
}

func TestSaveAndLoad(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.Save(Credentials{ServerURL: "http://a:3000", SessionToken: "tok"}))

	c, ok, err := s.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "http://a:3000", c.ServerURL)
	assert.Equal(t, "tok", c.SessionToken)
}

func TestSave_Overwrites(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.Save(Credentials{ServerURL: "http://a", SessionToken: "one"}))
	require.NoError(t, s.Save(Credentials{ServerURL: "http://b", SessionToken: "two"}))
	require.NoError(t, s.SaveSession("three"))

	c, ok, err := s.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Credentials{ServerURL: "http://b", SessionToken: "three"}, c)

	var n int64
	require.NoError(t, s.db.DB.Model(&ClientSetting{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestSaveSession_RejectsEmpty(t *testing.T) {
	s, _ := openTemp(t)
	assert.Error(t, s.SaveSession(""))
}

func TestClear(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.Save(Credentials{ServerURL: "http://a", SessionToken: "tok"}))
	require.NoError(t, s.Clear())

	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Save(Credentials{ServerURL: "http://a", SessionToken: "tok"}))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	c, ok, err := s.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", c.SessionToken)
}
