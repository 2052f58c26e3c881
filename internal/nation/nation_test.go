package nation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Catalog(t *testing.T) {
	c := Default()
	all := c.All()
	require.Len(t, all, 8)
	assert.Equal(t, "USA", all[0].ID)

	fr, err := c.Get("France")
	require.NoError(t, err)
	assert.Equal(t, "Paris", fr.Capital)
	assert.Contains(t, fr.Cities, "Paris")
}

func TestGet_Unknown(t *testing.T) {
	_, err := Default().Get("Atlantis")
	assert.True(t, errors.Is(err, ErrUnknownNation))
}

func TestAvailable_ExcludesTaken(t *testing.T) {
	avail := Default().Available([]string{"USA", "Japan"})
	require.Len(t, avail, 6)
	for _, n := range avail {
		assert.NotEqual(t, "USA", n.ID)
		assert.NotEqual(t, "Japan", n.ID)
	}
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(nil)
	assert.True(t, errors.Is(err, ErrInvalidNation))

	_, err = NewCatalog([]Nation{{ID: ""}})
	assert.True(t, errors.Is(err, ErrInvalidNation))

	_, err = NewCatalog([]Nation{{ID: "A"}, {ID: "A"}})
	assert.True(t, errors.Is(err, ErrInvalidNation))
}

func TestNewCatalog_CapitalAddedToCities(t *testing.T) {
	c, err := NewCatalog([]Nation{{ID: "Atlantis", Capital: "Poseidonia", Cities: []string{"Cleito"}}})
	require.NoError(t, err)
	n, err := c.Get("Atlantis")
	require.NoError(t, err)
	assert.Equal(t, []string{"Poseidonia", "Cleito"}, n.Cities)
	assert.Equal(t, "Atlantis", n.DisplayName)
	assert.Equal(t, []string{"Atlantis"}, c.IDs())
}
