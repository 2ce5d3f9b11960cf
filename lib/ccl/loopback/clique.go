package loopback

import (
	"encoding/hex"
	"sort"
	"sync"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/puzpuzpuz/xsync/v3"
)

// contribution is what one rank deposits into a slot
type contribution struct {
	op    string
	data  []float64
	dtype device.DType
	numel int
	root  int
	redOp ccl.ReduceOp

	// split only
	color int
	key   int
}

// slot is the meeting point of the n-th call of every rank
type slot struct {
	mu      sync.Mutex
	inputs  []*contribution
	arrived int
	left    int
	full    chan struct{}
	err     error

	// split only, computed by the first rank that leaves the slot
	children  map[int]*clique
	childRank []int
}

// clique is the shared state of all ranks of one communicator
type clique struct {
	lib    *Library
	id     ccl.UniqueID
	nranks int

	mu      sync.Mutex
	members []*comm
	joined  int
	ready   chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
	abortErr  error

	slots *xsync.MapOf[uint64, *slot]
}

func newClique(lib *Library, id ccl.UniqueID, nranks int) *clique {
	return &clique{
		lib:     lib,
		id:      id,
		nranks:  nranks,
		members: make([]*comm, nranks),
		ready:   make(chan struct{}),
		aborted: make(chan struct{}),
		slots:   xsync.NewMapOf[uint64, *slot](),
	}
}

func (cl *clique) name() string {
	return hex.EncodeToString(cl.id[len(Name) : len(Name)+16])
}

func (cl *clique) join(c *comm) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.members[c.rank] != nil {
		return ccl.NewError(ccl.InvalidUsage, "rank %d joined communicator %s twice", c.rank, cl.name())
	}
	cl.members[c.rank] = c
	cl.joined++
	if cl.joined == cl.nranks {
		close(cl.ready)
		cl.lib.cliques.Delete(cl.id)
	}
	return nil
}

// leave withdraws a rank that gave up waiting. It returns false if the
// clique completed in the meantime and the rank has to stay.
func (cl *clique) leave(c *comm) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.joined == cl.nranks {
		return false
	}
	cl.members[c.rank] = nil
	cl.joined--
	if cl.joined == 0 {
		cl.lib.cliques.Delete(cl.id)
	}
	return true
}

func (cl *clique) joinedCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.joined
}

func (cl *clique) abort(err error) {
	cl.abortOnce.Do(func() {
		cl.abortErr = err
		close(cl.aborted)
	})
}

func (cl *clique) isAborted() bool {
	select {
	case <-cl.aborted:
		return true
	default:
		return false
	}
}

// arrive deposits the contribution of rank into slot seq.
func (cl *clique) arrive(seq uint64, rank int, in *contribution) *slot {
	s, _ := cl.slots.LoadOrCompute(seq, func() *slot {
		return &slot{
			inputs: make([]*contribution, cl.nranks),
			left:   cl.nranks,
			full:   make(chan struct{}),
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[rank] = in
	s.arrived++
	if s.arrived == cl.nranks {
		s.err = validate(s.inputs)
		close(s.full)
	}
	return s
}

// depart marks that rank is done reading the slot. The last rank removes it.
func (cl *clique) depart(seq uint64, s *slot) {
	s.mu.Lock()
	s.left--
	last := s.left == 0
	s.mu.Unlock()
	if last {
		cl.slots.Delete(seq)
	}
}

// validate checks that all ranks issued a matching call
func validate(inputs []*contribution) error {
	first := inputs[0]
	for r, in := range inputs[1:] {
		switch {
		case in.op != first.op:
			return ccl.NewError(ccl.InvalidUsage, "rank %d called %s while rank 0 called %s", r+1, in.op, first.op)
		case in.op == opSplit:
			continue
		case in.numel != first.numel:
			return ccl.NewError(ccl.InvalidUsage, "%s: rank %d passed %d elements, rank 0 passed %d", in.op, r+1, in.numel, first.numel)
		case in.dtype != first.dtype:
			return ccl.NewError(ccl.InvalidUsage, "%s: rank %d passed %s, rank 0 passed %s", in.op, r+1, in.dtype, first.dtype)
		case in.root != first.root:
			return ccl.NewError(ccl.InvalidUsage, "%s: rank %d uses root %d, rank 0 uses root %d", in.op, r+1, in.root, first.root)
		case in.redOp != first.redOp:
			return ccl.NewError(ccl.InvalidUsage, "%s: rank %d reduces with %s, rank 0 with %s", in.op, r+1, in.redOp, first.redOp)
		}
	}
	return nil
}

// partition computes the children of a split slot. Must hold s.mu.
func (cl *clique) partition(s *slot) error {
	if s.children != nil {
		return nil
	}

	byColor := map[int][]int{}
	for rank, in := range s.inputs {
		if in.color >= 0 {
			byColor[in.color] = append(byColor[in.color], rank)
		}
	}

	children := make(map[int]*clique, len(byColor))
	childRank := make([]int, cl.nranks)
	for i := range childRank {
		childRank[i] = -1
	}
	for color, ranks := range byColor {
		sort.SliceStable(ranks, func(a, b int) bool {
			ka, kb := s.inputs[ranks[a]].key, s.inputs[ranks[b]].key
			if ka != kb {
				return ka < kb
			}
			return ranks[a] < ranks[b]
		})
		id, err := newUniqueID()
		if err != nil {
			return err
		}
		child := newClique(cl.lib, id, len(ranks))
		child.joined = len(ranks)
		close(child.ready)
		for newRank, parentRank := range ranks {
			childRank[parentRank] = newRank
		}
		children[color] = child
	}

	s.children = children
	s.childRank = childRank
	return nil
}
