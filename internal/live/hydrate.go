package live

import (
	"context"
	"log"
	"time"
)

// hydrate fetches the full record for a message that arrived over the
// feed as a minimal insert and patches it into the list. A failed fetch
// is tolerated: the minimal record stays visible and the next snapshot
// fetch fills the gap. A result arriving after the view moved on is
// discarded by the epoch check.
func (s *Session) hydrate(messageID string, key Key, epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	full, err := s.cfg.Store.GetMessage(ctx, messageID)
	if err != nil {
		log.Printf("sync: hydrate %s: %v", messageID, err)
		return
	}
	if s.epoch.Load() != epoch {
		return
	}
	if s.list.Patch(full) {
		s.emit(Delta{Type: DeltaPatch, Key: key, Message: full})
	}
}
