package pg

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
)

// commKey identifies a communicator within a group
type commKey struct {
	devices string
	parent  string // uid of the parent group for split communicators
	color   int
	tag     string // set for communicators outside the pool, e.g. the health check
}

func newCommKey(devices []int) commKey {
	parts := make([]string, len(devices))
	for i, d := range devices {
		parts[i] = strconv.Itoa(d)
	}
	return commKey{devices: strings.Join(parts, ",")}
}

func (k commKey) String() string {
	s := k.devices
	if k.parent != "" {
		s += fmt.Sprintf("|parent=%s|color=%d", k.parent, k.color)
	}
	if k.tag != "" {
		s += "|" + k.tag
	}
	return s
}

// deviceComm is the vendor communicator of one device together with the
// number of children split from it
type deviceComm struct {
	ccl.IComm
	splits atomic.Int64
}

// Communicator bundles the vendor communicators and the streams of one
// device set. It is created once per key and never changed afterwards,
// except for being aborted.
type Communicator struct {
	key       commKey
	devices   []int
	comms     []*deviceComm
	streams   []*device.Stream
	createdAt time.Time

	// launchMu keeps the launch order of collectives identical on all devices
	launchMu sync.Mutex

	aborted  atomic.Bool
	abortMu  sync.Mutex
	abortErr error
	hostErr  error // first failed host step, see launchHost
}

func newCommunicator(key commKey, devices []int, comms []ccl.IComm) *Communicator {
	c := &Communicator{
		key:       key,
		devices:   append([]int(nil), devices...),
		comms:     make([]*deviceComm, len(comms)),
		streams:   make([]*device.Stream, len(comms)),
		createdAt: time.Now(),
	}
	for i, vc := range comms {
		c.comms[i] = &deviceComm{IComm: vc}
		c.streams[i] = device.NewStream(devices[i])
	}
	return c
}

// Devices returns the devices of the communicator in launch order
func (c *Communicator) Devices() []int {
	return append([]int(nil), c.devices...)
}

// Size returns the number of participants, i.e. ranks times devices per rank
func (c *Communicator) Size() int {
	return c.comms[0].Size()
}

// SplitCounter returns how many child communicators were split from this one
func (c *Communicator) SplitCounter() int64 {
	var n int64
	for _, dc := range c.comms {
		n += dc.splits.Load()
	}
	return n
}

// IsAborted reports whether the communicator was aborted
func (c *Communicator) IsAborted() bool {
	return c.aborted.Load()
}

// AbortReason returns the error that caused the abort
func (c *Communicator) AbortReason() error {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	return c.abortErr
}

// launchHost enqueues a host step of a collective on the stream of device
// i. A failing step is kept as asynchronous error of the communicator.
func (c *Communicator) launchHost(i int, fn func() error) error {
	ok := c.streams[i].Launch(func() {
		if err := fn(); err != nil {
			c.abortMu.Lock()
			if c.hostErr == nil {
				c.hostErr = err
			}
			c.abortMu.Unlock()
		}
	})
	if !ok {
		return fmt.Errorf("stream of device %d is closed", c.devices[i])
	}
	return nil
}

// asyncError returns the first asynchronous error of the host steps or of
// any device communicator
func (c *Communicator) asyncError() error {
	c.abortMu.Lock()
	err := c.hostErr
	c.abortMu.Unlock()
	if err != nil {
		return err
	}
	for _, dc := range c.comms {
		if err := dc.GetAsyncError(); err != nil {
			return err
		}
	}
	return nil
}

// abort tears down all device communicators. Only the first call has an
// effect and returns true.
func (c *Communicator) abort(reason error) bool {
	if !c.aborted.CompareAndSwap(false, true) {
		return false
	}
	c.abortMu.Lock()
	c.abortErr = reason
	c.abortMu.Unlock()

	for _, dc := range c.comms {
		if err := dc.Abort(); err != nil {
			plog.Warningf("abort of communicator %s on device %d: %v", c.key, dc.Device(), err)
		}
	}
	for _, s := range c.streams {
		s.Close()
	}
	return true
}

// destroy releases the communicator after its queued work has run
func (c *Communicator) destroy() {
	for _, dc := range c.comms {
		if err := dc.Destroy(); err != nil {
			plog.Warningf("destroy of communicator %s on device %d: %v", c.key, dc.Device(), err)
		}
	}
	for _, s := range c.streams {
		s.Close()
	}
}

func (c *Communicator) String() string {
	return fmt.Sprintf("Communicator(key=%s, size=%d, aborted=%v)", c.key, c.Size(), c.IsAborted())
}
