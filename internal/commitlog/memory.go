package commitlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"readmodel.dev/projector/internal/domain"
)

// MemoryLog is an append-only in-process commit log.
type MemoryLog struct {
	mu       sync.RWMutex
	commits  []RawCommit
	versions map[string]int64
	now      func() time.Time
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{versions: make(map[string]int64), now: time.Now}
}

// Append stores c at the next position and returns it. Missing commit id,
// version and timestamp are filled in.
func (l *MemoryLog) Append(c RawCommit) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	c.Position = domain.Position(len(l.commits) + 1)
	if c.CommitID == "" {
		c.CommitID = uuid.NewString()
	}
	key := c.AggregateID
	if key == "" && c.AggregateAlias != nil {
		key = c.AggregateAlias.Kind + "/" + c.AggregateAlias.Alias
	}
	if c.Version == 0 {
		c.Version = l.versions[key] + 1
	}
	l.versions[key] = c.Version
	if c.CommittedAt.IsZero() {
		c.CommittedAt = l.now().UTC()
	}
	l.commits = append(l.commits, c)
	return c.Position
}

// AppendEvents is Append for a commit on aggregateID.
func (l *MemoryLog) AppendEvents(aggregateID domain.Identity, issuedBy string, events ...RawEvent) domain.Position {
	return l.Append(RawCommit{AggregateID: aggregateID.String(), IssuedBy: issuedBy, Events: events})
}

// Fetch implements Backend.
func (l *MemoryLog) Fetch(ctx context.Context, after domain.Position) (RawCommit, bool, error) {
	if err := ctx.Err(); err != nil {
		return RawCommit{}, false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := sort.Search(len(l.commits), func(i int) bool { return l.commits[i].Position > after })
	if i == len(l.commits) {
		return RawCommit{}, false, nil
	}
	return l.commits[i], true, nil
}

// Head implements HeadReader.
func (l *MemoryLog) Head(context.Context) (domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.Position(len(l.commits)), nil
}
