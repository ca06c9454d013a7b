package identity

import (
	"strconv"
	"strings"

	"flipr_ingest/models"
	"github.com/google/uuid"
)

// missing marks an absent fingerprint component. Records that differ only in
// missing coordinates collide on purpose.
const missing = "None"

// Fingerprint joins address, latitude and longitude with "_".
func Fingerprint(p *models.Property) string {
	return strings.Join([]string{
		orMissing(p.Address),
		formatCoord(p.Lat),
		formatCoord(p.Lng),
	}, "_")
}

// Identifier derives a stable key from address text: spaces become "_" and commas
// are dropped. An empty address yields a random identifier.
func Identifier(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return uuid.NewString()
	}
	id := strings.ReplaceAll(address, ",", "")
	return strings.ReplaceAll(id, " ", "_")
}

func formatCoord(v *float64) string {
	if v == nil {
		return missing
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orMissing(s string) string {
	if s == "" {
		return missing
	}
	return s
}
