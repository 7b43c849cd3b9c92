package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFinishedCacheExpires(t *testing.T) {
	c := newFinishedCache(20*time.Millisecond, 8)
	id := uuid.New()

	c.Mark(id)
	if !c.IsFinished(id) {
		t.Fatal("fresh mark should be visible")
	}
	if c.IsFinished(uuid.New()) {
		t.Error("unknown id should not be finished")
	}

	time.Sleep(30 * time.Millisecond)
	if c.IsFinished(id) {
		t.Error("mark should expire after the TTL")
	}
}

func TestFinishedCacheBounded(t *testing.T) {
	c := newFinishedCache(time.Hour, 4)

	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = uuid.New()
		c.Mark(ids[i])
		time.Sleep(time.Millisecond) // distinct expiries for eviction order
	}

	if len(c.entries) > 4 {
		t.Errorf("cache size = %d, want <= 4", len(c.entries))
	}
	if !c.IsFinished(ids[len(ids)-1]) {
		t.Error("newest mark should survive eviction")
	}
}
