package prescriptions

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/pkg/db/models"
)

// Cache merges locally created records with confirmed snapshots from the
// feed. Records are keyed by their client-generated id, so a confirmed
// copy replaces the optimistic one without duplicating it.
type Cache struct {
	mu         sync.Mutex
	confirmed  []models.Prescription
	optimistic map[uuid.UUID]models.Prescription
}

func NewCache() *Cache {
	return &Cache{optimistic: make(map[uuid.UUID]models.Prescription)}
}

// Optimistic records rec before the feed has confirmed it.
func (c *Cache) Optimistic(rec models.Prescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.confirmed {
		if existing.ID == rec.ID {
			return
		}
	}
	c.optimistic[rec.ID] = rec
}

// Apply replaces the confirmed set with snapshot.
func (c *Cache) Apply(snapshot []models.Prescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed[:0:0], snapshot...)
	for _, rec := range snapshot {
		delete(c.optimistic, rec.ID)
	}
}

// Items returns the merged view, newest first.
func (c *Cache) Items() []models.Prescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(c.confirmed)+len(c.optimistic))
	out := make([]models.Prescription, 0, len(c.confirmed)+len(c.optimistic))
	for _, rec := range c.confirmed {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	for id, rec := range c.optimistic {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

// Pending counts records not yet confirmed by the feed.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.optimistic)
}
