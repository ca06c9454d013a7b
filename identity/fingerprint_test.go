package identity

import (
	"testing"

	"flipr_ingest/models"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := &models.Property{Address: "12 Main St, Austin, TX", Lat: models.Float64Ptr(30.25), Lng: models.Float64Ptr(-97.75)}
	b := &models.Property{Lng: models.Float64Ptr(-97.75), Lat: models.Float64Ptr(30.25), Address: "12 Main St, Austin, TX", Price: models.Float64Ptr(1)}

	assert.Equal(t, "12 Main St, Austin, TX_30.25_-97.75", Fingerprint(a))
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintMissingParts(t *testing.T) {
	a := &models.Property{Address: "12 Main St"}
	b := &models.Property{Address: "12 Main St", Price: models.Float64Ptr(100)}

	assert.Equal(t, "12 Main St_None_None", Fingerprint(a))
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Equal(t, "None_None_None", Fingerprint(&models.Property{}))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "12_Main_St_Austin_TX", Identifier("12 Main St, Austin, TX"))
	assert.Equal(t, Identifier("1 Elm Ave, Reno"), Identifier("1 Elm Ave, Reno"))

	random := Identifier("  ")
	assert.Len(t, random, 36)
	assert.NotEqual(t, random, Identifier(""))
}
