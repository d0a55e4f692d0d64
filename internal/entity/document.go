package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document is a persisted primary record as read back from the catalog.
type Document struct {
	ID           uuid.UUID
	Locator      string
	Fingerprint  string
	Format       string
	PageCount    int
	SizeBytes    int64
	DiscoveredAt time.Time
	CompletedAt  time.Time
	Summary      string
	Tags         []Tag
}
