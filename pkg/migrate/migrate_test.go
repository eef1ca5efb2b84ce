package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestUp_MissingSource(t *testing.T) {
	m := NewMigrator(nil, "", nil)

	err := m.Up(fstest.MapFS{}, "missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "create migration source failed")
}

func TestNewMigrator_DefaultLogger(t *testing.T) {
	m := NewMigrator(nil, "collector_schema", nil)
	assert.NotNil(t, m.logger)
	assert.Equal(t, "collector_schema", m.tableName)
}
