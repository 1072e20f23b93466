// Package replica manages local replica pages: the private DRAM copies the
// fault engine creates to shadow a shared-window page once a node holds it
// in S or M. Replicas live on one of two LRU-ordered lists (active,
// inactive); a shrinker-style reclaim pass ages pages from active to
// inactive and frees from inactive under memory pressure.
package replica

import (
	"container/list"
	"sync"

	"github.com/example/swmc-coherence/coherr"
	"github.com/example/swmc-coherence/core"
)

// CreateOutcome is the result of CreateReplica.
type CreateOutcome int

const (
	Created CreateOutcome = iota
	Skipped
)

// Mapper stands in for the VMA interval-tree walk the reclaim scan uses to
// sample and clear a replica's young bit. A production wiring would drive
// this from the real per-file mapping layer; here it is supplied by the
// owning harness (tests, or the default implementation on node.Node).
type Mapper interface {
	IsYoung(replicaID uint64) bool
	ClearYoung(replicaID uint64)
}

// Replica is a local, privately allocated page shadowing one shared-window
// page, plus the bookkeeping the two-list policy needs.
type Replica struct {
	id       uint64
	meta     *core.PageMeta // back-pointer to the shared page this shadows
	order    int32
	Data     []byte
	inactive bool // which list the replica currently lives on
}

// ID returns the replica's pool-assigned identity, used as the Mapper key.
func (r *Replica) ID() uint64 { return r.id }

// Meta returns the shared page this replica shadows.
func (r *Replica) Meta() *core.PageMeta { return r.meta }

// Order returns the replica's page order (0 for base page).
func (r *Replica) Order() int32 { return r.order }

// Pool owns every local replica and the two-list active/inactive policy.
type Pool struct {
	mu     sync.Mutex
	active *list.List // MRU at front, LRU at back; elements hold *Replica
	inact  *list.List
	lookup map[uint64]*list.Element
	mapper Mapper
	nextID uint64

	allocated int // accounting: total replica pages currently live
}

// NewPool constructs an empty pool. mapper may be nil, in which case every
// sampled page is treated as young (never reclaimed) — callers that want
// reclaim behavior in tests must supply a Mapper.
func NewPool(mapper Mapper) *Pool {
	return &Pool{
		active: list.New(),
		inact:  list.New(),
		lookup: make(map[uint64]*list.Element),
		mapper: mapper,
	}
}

// CreateReplica allocates a replica shadowing meta, copying data into it.
// If staleShared is true (the original is flagged MODIFIED & SHARED, i.e.
// S-stale) creation is skipped per the protocol: a stale-shared page must
// not be replicated until refreshed. On success meta's replica pointer is
// set and the replica is inserted at the active list's MRU end.
func (p *Pool) CreateReplica(meta *core.PageMeta, order int32, data []byte, staleShared bool) (*Replica, CreateOutcome, error) {
	if staleShared {
		return nil, Skipped, nil
	}
	if meta == nil {
		return nil, 0, coherr.New(coherr.InvalidMessage, "CreateReplica: nil page metadata")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	p.mu.Lock()
	p.nextID++
	r := &Replica{id: p.nextID, meta: meta, order: order, Data: buf}
	elem := p.active.PushFront(r)
	p.lookup[r.id] = elem
	p.allocated++
	p.mu.Unlock()

	meta.SetReplica(r)
	return r, Created, nil
}

// FlushReplica writes the replica's data back to the original (via writeBack,
// which the caller supplies since the original's storage is outside this
// package), removes the replica from its list, clears the original's
// replica pointer, and frees accounting for it.
func (p *Pool) FlushReplica(r *Replica, writeBack func(data []byte) error) error {
	if r == nil {
		return coherr.New(coherr.InvalidMessage, "FlushReplica: nil replica")
	}
	if writeBack != nil {
		if err := writeBack(r.Data); err != nil {
			return coherr.Wrap(err, "FlushReplica: write-back failed")
		}
	}

	p.mu.Lock()
	elem, ok := p.lookup[r.id]
	if ok {
		if r.inactive {
			p.inact.Remove(elem)
		} else {
			p.active.Remove(elem)
		}
		delete(p.lookup, r.id)
		p.allocated--
	}
	p.mu.Unlock()

	if r.meta != nil {
		r.meta.SetReplica(nil)
	}
	return nil
}

// Allocated returns the total number of live replica pages.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// ActiveLen and InactiveLen report the two lists' current sizes.
func (p *Pool) ActiveLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.Len()
}

func (p *Pool) InactiveLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inact.Len()
}

func (p *Pool) isYoung(id uint64) bool {
	if p.mapper == nil {
		return true
	}
	return p.mapper.IsYoung(id)
}

func (p *Pool) clearYoung(id uint64) {
	if p.mapper != nil {
		p.mapper.ClearYoung(id)
	}
}

// ageActive scans up to n pages from the active list's LRU tail, sampling
// and clearing each one's young bit. Young pages move back to the active
// MRU front; not-young pages migrate to the inactive list's MRU front.
// Returns the number of pages migrated to inactive.
func (p *Pool) ageActive(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	migrated := 0
	for i := 0; i < n; i++ {
		elem := p.active.Back()
		if elem == nil {
			break
		}
		r := elem.Value.(*Replica)

		young := p.isYoung(r.id)
		p.clearYoung(r.id)

		p.active.Remove(elem)
		if young {
			p.lookup[r.id] = p.active.PushFront(r)
			continue
		}

		r.inactive = true
		p.lookup[r.id] = p.inact.PushFront(r)
		migrated++
	}
	return migrated
}

// reclaimInactive frees up to n pages from the inactive list's LRU tail,
// write-flushing each through flushFn. Returns the number actually freed.
func (p *Pool) reclaimInactive(n int, flushFn func(*Replica) error) int {
	freed := 0
	for freed < n {
		p.mu.Lock()
		elem := p.inact.Back()
		if elem == nil {
			p.mu.Unlock()
			break
		}
		r := elem.Value.(*Replica)
		p.inact.Remove(elem)
		delete(p.lookup, r.id)
		p.allocated--
		p.mu.Unlock()

		if flushFn != nil {
			if err := flushFn(r); err != nil {
				continue
			}
		}
		if r.meta != nil {
			r.meta.SetReplica(nil)
		}
		freed++
	}
	return freed
}

// CountObjects implements the shrinker's count_objects callback: the
// reclaimable estimate is the inactive length plus one quarter of active.
func (p *Pool) CountObjects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inact.Len() + p.active.Len()/4
}

// ScanObjects implements the shrinker's scan_objects callback: it attempts
// to free approximately n pages. Each pass: if both lists together hold
// fewer than 2n pages, it gives up early without freeing (the boundary
// case the protocol calls out explicitly). If inactive alone already holds
// at least 2n, it reclaims directly. Otherwise it ages active pages in
// geometrically growing batches (4n, then 8n, 16n, ...) until inactive
// reaches 2n or active is exhausted, then reclaims. Each successful pass
// doubles the next pass's aging and reclaim batch size.
func (p *Pool) ScanObjects(n int, flushFn func(*Replica) error) int {
	if n <= 0 {
		return 0
	}

	freed := 0
	ageMult := 1
	freeMult := 1

	for freed < n {
		p.mu.Lock()
		inactLen := p.inact.Len()
		activeLen := p.active.Len()
		p.mu.Unlock()

		if activeLen+inactLen < 2*n {
			break
		}

		if inactLen < 2*n {
			for {
				migrated := p.ageActive(4 * n * ageMult)
				ageMult *= 2
				p.mu.Lock()
				activeLen = p.active.Len()
				inactLen = p.inact.Len()
				p.mu.Unlock()
				if inactLen >= 2*n || activeLen == 0 || migrated == 0 {
					break
				}
			}
		}

		if inactLen < 2*n {
			break
		}

		freed += p.reclaimInactive(n*freeMult, flushFn)
		freeMult *= 2
	}
	return freed
}

// FlushAll unconditionally moves every active page to inactive (bypassing
// the young-bit sample, since an explicit flush-all means the caller wants
// everything gone regardless of recency), then reclaims the entire inactive
// list. Used on shutdown and on explicit user request.
func (p *Pool) FlushAll(flushFn func(*Replica) error) int {
	p.mu.Lock()
	for {
		elem := p.active.Back()
		if elem == nil {
			break
		}
		r := elem.Value.(*Replica)
		p.active.Remove(elem)
		r.inactive = true
		p.lookup[r.id] = p.inact.PushFront(r)
	}
	inactLen := p.inact.Len()
	p.mu.Unlock()

	return p.reclaimInactive(inactLen, flushFn)
}
