package postgres

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemaVersion(t *testing.T) {
	version, err := EmbeddedSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrateDown_RejectsNonPositiveSteps(t *testing.T) {
	for _, steps := range []int{0, -2} {
		err := MigrateDown("postgres://unused", "", steps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "steps must be > 0")
	}
}

func TestIgnoreNoChange(t *testing.T) {
	assert.NoError(t, ignoreNoChange("migrate up", nil))
	assert.NoError(t, ignoreNoChange("migrate up", migrate.ErrNoChange))

	boom := errors.New("boom")
	err := ignoreNoChange("migrate up", boom)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "migrate up: boom")
}
