package storage

import (
	"testing"

	"flipr_ingest/models"
	"github.com/stretchr/testify/assert"
)

func TestFilterClause(t *testing.T) {
	where, args := filterClause(models.PropertyFilter{}, dollar)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = filterClause(models.PropertyFilter{
		MinPrice:     models.Float64Ptr(1000),
		MinBedrooms:  models.IntPtr(2),
		MinIntensity: models.Float64Ptr(0.8),
	}, dollar)
	assert.Equal(t, " WHERE price >= $1 AND bedrooms >= $2 AND intensity >= $3", where)
	assert.Equal(t, []any{1000.0, 2, 0.8}, args)
}

func TestNormalizeFilter(t *testing.T) {
	f := NormalizeFilter(models.PropertyFilter{})
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPerPage, f.PerPage)
	assert.Zero(t, f.Offset())

	f = NormalizeFilter(models.PropertyFilter{Page: 3, PerPage: 10000})
	assert.Equal(t, MaxPerPage, f.PerPage)
	assert.Equal(t, 2*MaxPerPage, f.Offset())
}
