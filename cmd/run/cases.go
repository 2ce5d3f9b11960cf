package run

import (
	"fmt"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/ValentinKolb/dCCL/lib/pg"
)

// caseEnv describes the share of one rank in a run
type caseEnv struct {
	rank     int
	size     int
	devices  int
	elements int
	dtype    device.DType
}

func (e caseEnv) world() int { return e.size * e.devices }

// participant is the global index of device i of this rank
func (e caseEnv) participant(i int) int { return e.rank*e.devices + i }

// sumTo is 1+2+...+n, the sum of all participant values
func sumTo(n int) float64 { return float64(n * (n + 1) / 2) }

// local returns one tensor per local device filled with participant+1
func (e caseEnv) local(shape ...int) []*device.Tensor {
	out := make([]*device.Tensor, e.devices)
	for i := range out {
		out[i] = device.NewTensor(i, e.dtype, shape...).Fill(float64(e.participant(i) + 1))
	}
	return out
}

// verifyFunc checks the result of a completed work
type verifyFunc func() error

// collectiveCase launches one collective on a group and returns how to
// verify its result
type collectiveCase struct {
	name string
	// bytes is the payload one participant contributes
	bytes  func(e caseEnv) int
	launch func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error)
}

func expectAll(what string, t *device.Tensor, want float64) error {
	want = t.DType().Round(want)
	for k, v := range t.Data() {
		if v != want {
			return fmt.Errorf("%s: element %d is %v, expected %v", what, k, v, want)
		}
	}
	return nil
}

func payload(e caseEnv) int { return e.elements * e.dtype.Size() }

var cases = []collectiveCase{
	{
		name:  "allreduce",
		bytes: payload,
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			tensors := e.local(e.elements)
			w, err := g.AllReduce(tensors, pg.AllReduceOptions{ReduceOp: ccl.Sum})
			return w, func() error {
				for i, t := range tensors {
					if err := expectAll(fmt.Sprintf("device %d", i), t, sumTo(e.world())); err != nil {
						return err
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "broadcast",
		bytes: payload,
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			tensors := e.local(e.elements)
			root := e.size - 1
			w, err := g.Broadcast(tensors, pg.BroadcastOptions{RootRank: root})
			return w, func() error {
				for i, t := range tensors {
					if err := expectAll(fmt.Sprintf("device %d", i), t, float64(root*e.devices+1)); err != nil {
						return err
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "reduce",
		bytes: payload,
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			tensors := e.local(e.elements)
			w, err := g.Reduce(tensors, pg.ReduceOptions{ReduceOp: ccl.Max})
			return w, func() error {
				if e.rank != 0 {
					return nil
				}
				return expectAll("root tensor", tensors[0], float64(e.world()))
			}, err
		},
	},
	{
		name:  "allgather",
		bytes: payload,
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			inputs := e.local(e.elements)
			outputs := make([][]*device.Tensor, e.devices)
			for i := range outputs {
				for p := 0; p < e.world(); p++ {
					outputs[i] = append(outputs[i], device.NewTensor(i, e.dtype, e.elements))
				}
			}
			w, err := g.AllGather(outputs, inputs, pg.AllGatherOptions{})
			return w, func() error {
				for i, list := range outputs {
					for p, t := range list {
						if err := expectAll(fmt.Sprintf("device %d block %d", i, p), t, float64(p+1)); err != nil {
							return err
						}
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "allgather_base",
		bytes: payload,
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			input := device.NewTensor(0, e.dtype, e.elements).Fill(float64(e.rank + 1))
			output := device.NewTensor(0, e.dtype, e.size*e.elements)
			w, err := g.AllGatherBase(output, input, pg.AllGatherOptions{})
			return w, func() error {
				for r := 0; r < e.size; r++ {
					block, _ := output.View(r*e.elements, e.elements)
					if err := expectAll(fmt.Sprintf("block %d", r), block, float64(r+1)); err != nil {
						return err
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "reduce_scatter",
		bytes: func(e caseEnv) int { return e.world() * payload(e) },
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			outputs := make([]*device.Tensor, e.devices)
			inputs := make([][]*device.Tensor, e.devices)
			for i := range outputs {
				outputs[i] = device.NewTensor(i, e.dtype, e.elements)
				for p := 0; p < e.world(); p++ {
					inputs[i] = append(inputs[i], device.NewTensor(i, e.dtype, e.elements).Fill(float64(e.participant(i)+1)))
				}
			}
			w, err := g.ReduceScatter(outputs, inputs, pg.ReduceScatterOptions{ReduceOp: ccl.Sum})
			return w, func() error {
				for i, t := range outputs {
					if err := expectAll(fmt.Sprintf("device %d", i), t, sumTo(e.world())); err != nil {
						return err
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "reduce_scatter_base",
		bytes: func(e caseEnv) int { return e.size * payload(e) },
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			input := device.NewTensor(0, e.dtype, e.size*e.elements).Fill(float64(e.rank + 1))
			output := device.NewTensor(0, e.dtype, e.elements)
			w, err := g.ReduceScatterBase(output, input, pg.ReduceScatterOptions{ReduceOp: ccl.Sum})
			return w, func() error {
				return expectAll("output", output, sumTo(e.size))
			}, err
		},
	},
	{
		name:  "allreduce_sparse",
		bytes: func(e caseEnv) int { return 2 * sparseWidth(e) * e.dtype.Size() },
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			width, rows := sparseWidth(e), e.world()
			tensors := make([]*device.SparseTensor, e.devices)
			for i := range tensors {
				p := e.participant(i)
				values := device.NewTensor(i, e.dtype, 2, width).Fill(float64(p + 1))
				s, err := device.NewSparseTensor(i, e.dtype, []int{rows + 1, width}, []int64{int64(p), int64(rows)}, values)
				if err != nil {
					return nil, nil, err
				}
				tensors[i] = s
			}
			w, err := g.AllReduceSparse(tensors, pg.AllReduceOptions{ReduceOp: ccl.Sum})
			return w, func() error {
				for i, s := range tensors {
					if s.NNZ() != rows+1 {
						return fmt.Errorf("device %d holds %d rows, expected %d", i, s.NNZ(), rows+1)
					}
					dense := s.ToDense()
					for p := 0; p <= rows; p++ {
						row, _ := dense.View(p*width, width)
						want := float64(p + 1)
						if p == rows {
							want = sumTo(rows)
						}
						if err := expectAll(fmt.Sprintf("device %d row %d", i, p), row, want); err != nil {
							return err
						}
					}
				}
				return nil
			}, err
		},
	},
	{
		name:  "barrier",
		bytes: func(caseEnv) int { return 0 },
		launch: func(g *pg.ProcessGroup, e caseEnv) (*pg.Work, verifyFunc, error) {
			w, err := g.Barrier(pg.BarrierOptions{})
			return w, func() error { return nil }, err
		},
	},
}

// sparseWidth spreads the elements over the rows of one participant
func sparseWidth(e caseEnv) int {
	return max(e.elements/2, 1)
}

// caseNames lists all collectives in run order
func caseNames() []string {
	names := make([]string, len(cases))
	for i, c := range cases {
		names[i] = c.name
	}
	return names
}

func findCase(name string) (collectiveCase, bool) {
	for _, c := range cases {
		if c.name == name {
			return c, true
		}
	}
	return collectiveCase{}, false
}
