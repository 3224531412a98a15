package storage

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDs hands out monotonic ULIDs: ids created later sort after earlier
// ones, which makes id order the insertion order.
type IDs struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewIDs() *IDs {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDs{entropy: ulid.Monotonic(src, 0)}
}

func (g *IDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
