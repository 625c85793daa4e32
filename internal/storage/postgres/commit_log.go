package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"readmodel.dev/projector/internal/commitlog"
	"readmodel.dev/projector/internal/domain"
)

const (
	defaultPageSize = 200
	// maxPages bounds the cached pages; slots reading different ranges each
	// keep one.
	maxPages = 8
)

// page holds the commits read after a position.
type page struct {
	after   domain.Position
	commits []commitlog.RawCommit
	used    uint64
}

// next returns the first commit after pos when the page covers it.
func (p *page) next(pos domain.Position) (commitlog.RawCommit, bool) {
	if pos < p.after {
		return commitlog.RawCommit{}, false
	}
	i := sort.Search(len(p.commits), func(i int) bool { return p.commits[i].Position > pos })
	if i == len(p.commits) {
		return commitlog.RawCommit{}, false
	}
	return p.commits[i], true
}

func (p *page) last() domain.Position {
	return p.commits[len(p.commits)-1].Position
}

// CommitLog implements commitlog.Backend on the commits table, scoped to one
// partition (connection id) and tenant. Fetch reads a page at a time and
// serves following positions from it. Each reader position keeps its own
// page, so slots at different offsets do not evict each other.
type CommitLog struct {
	db        DBTX
	partition string
	tenant    string
	pageSize  int

	mu    sync.Mutex
	pages []*page
	clock uint64
}

// NewCommitLog creates a CommitLog. A non-positive pageSize uses the default.
func NewCommitLog(db DBTX, partition, tenant string, pageSize int) *CommitLog {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &CommitLog{db: db, partition: partition, tenant: tenant, pageSize: pageSize}
}

// Fetch returns the first commit after the given position.
func (l *CommitLog) Fetch(ctx context.Context, after domain.Position) (commitlog.RawCommit, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clock++
	for _, p := range l.pages {
		if c, ok := p.next(after); ok {
			p.used = l.clock
			return c, true, nil
		}
	}
	commits, err := l.query(ctx, after)
	if err != nil {
		return commitlog.RawCommit{}, false, err
	}
	if len(commits) == 0 {
		return commitlog.RawCommit{}, false, nil
	}
	l.keep(&page{after: after, commits: commits, used: l.clock})
	return commits[0], true, nil
}

// keep caches p. It replaces the page the reader just ran off, or else the
// least recently used one once the cache is full.
func (l *CommitLog) keep(p *page) {
	victim := -1
	for i, old := range l.pages {
		if old.last() == p.after {
			victim = i
			break
		}
	}
	if victim < 0 && len(l.pages) < maxPages {
		l.pages = append(l.pages, p)
		return
	}
	if victim < 0 {
		victim = 0
		for i, old := range l.pages {
			if old.used < l.pages[victim].used {
				victim = i
			}
		}
	}
	l.pages[victim] = p
}

func (l *CommitLog) query(ctx context.Context, after domain.Position) ([]commitlog.RawCommit, error) {
	rows, err := l.db.Query(ctx,
		`SELECT position, commit_id, aggregate_id, aggregate_kind, aggregate_alias,
			version, issued_by, committed_at, events
		FROM commits
		WHERE partition_id = $1 AND tenant = $2 AND position > $3
		ORDER BY position
		LIMIT $4`,
		l.partition, l.tenant, int64(after), l.pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: query commits after %d: %v", commitlog.ErrUnavailable, after, err)
	}
	defer rows.Close()

	var out []commitlog.RawCommit
	for rows.Next() {
		var (
			c                 commitlog.RawCommit
			pos               int64
			aggKind, aggAlias string
			events            []byte
		)
		if err := rows.Scan(&pos, &c.CommitID, &c.AggregateID, &aggKind, &aggAlias,
			&c.Version, &c.IssuedBy, &c.CommittedAt, &events); err != nil {
			return nil, fmt.Errorf("%w: scan commit: %v", commitlog.ErrUnavailable, err)
		}
		c.Position = domain.Position(pos)
		if aggAlias != "" {
			c.AggregateAlias = &commitlog.AliasRef{Kind: aggKind, Alias: aggAlias}
		}
		if err := json.Unmarshal(events, &c.Events); err != nil {
			// Keep the commit so the source reports it as malformed instead
			// of stalling on it.
			c.Events = nil
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read commits: %v", commitlog.ErrUnavailable, err)
	}
	return out, nil
}

// Head returns the latest position in scope, or Genesis.
func (l *CommitLog) Head(ctx context.Context) (domain.Position, error) {
	var pos int64
	err := l.db.QueryRow(ctx,
		"SELECT COALESCE(MAX(position), 0) FROM commits WHERE partition_id = $1 AND tenant = $2",
		l.partition, l.tenant).Scan(&pos)
	if err != nil {
		return domain.Genesis, fmt.Errorf("%w: read head: %v", commitlog.ErrUnavailable, err)
	}
	return domain.Position(pos), nil
}

// Append writes a commit and returns its position. It exists for seeding and
// tests; the write side normally owns the table.
func (l *CommitLog) Append(ctx context.Context, c commitlog.RawCommit) (domain.Position, error) {
	if c.CommitID == "" {
		c.CommitID = uuid.NewString()
	}
	events, err := json.Marshal(c.Events)
	if err != nil {
		return domain.Genesis, fmt.Errorf("encode events: %w", err)
	}
	if c.CommittedAt.IsZero() {
		c.CommittedAt = time.Now().UTC()
	}
	var kind, alias string
	if c.AggregateAlias != nil {
		kind, alias = c.AggregateAlias.Kind, c.AggregateAlias.Alias
	}
	var pos int64
	err = l.db.QueryRow(ctx,
		`INSERT INTO commits (partition_id, tenant, commit_id, aggregate_id, aggregate_kind,
			aggregate_alias, version, issued_by, committed_at, events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING position`,
		l.partition, l.tenant, c.CommitID, c.AggregateID, kind, alias,
		c.Version, c.IssuedBy, c.CommittedAt, events).Scan(&pos)
	if err != nil {
		return domain.Genesis, fmt.Errorf("append commit: %w", err)
	}
	return domain.Position(pos), nil
}
