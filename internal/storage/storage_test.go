// internal/storage/storage_test.go
package storage_test

import (
	"context"
	"testing"

	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/stretchr/testify/assert"
)

var _ storage.Backend = storage.Discard{}

func TestDiscard(t *testing.T) {
	var b storage.Backend = storage.Discard{}

	assert.NoError(t, b.Init())
	assert.NoError(t, b.SaveSnapshot(context.Background(), store.Snapshot{}))
	assert.NoError(t, b.RecordImpacts(context.Background(), []storage.Impact{{MissileID: 1}}))
	assert.NoError(t, b.Close())
}
