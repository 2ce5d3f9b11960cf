package pg

import (
	"testing"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sparseInput returns a tensor of rows+1 rows where participant p holds
// row p and the shared last row, both filled with p+1
func sparseInput(t *testing.T, dev, p, rows, width int) *device.SparseTensor {
	values := device.NewTensor(dev, device.Float32, 2, width).Fill(float64(p + 1))
	s, err := device.NewSparseTensor(dev, device.Float32, []int{rows + 1, width}, []int64{int64(p), int64(rows)}, values)
	require.NoError(t, err)
	return s
}

func TestAllReduceSparse(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	participants := testSize * testDevices
	const width = 3

	inputs := make([][]*device.SparseTensor, testSize)
	for rank := range inputs {
		for i := 0; i < testDevices; i++ {
			inputs[rank] = append(inputs[rank], sparseInput(t, i, rank*testDevices+i, participants, width))
		}
	}

	forEachRank(t, testSize, func(rank int) error {
		work, err := groups[rank].AllReduceSparse(inputs[rank], AllReduceOptions{})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}
		_, err = work.Result()
		return err
	})

	for rank := range inputs {
		for i, s := range inputs[rank] {
			assert.Equal(t, []int64{0, 1, 2, 3, 4}, s.Indices(), "rank %d device %d", rank, i)
			dense := s.ToDense()
			for p := 0; p < participants; p++ {
				assert.Equal(t, float64(p+1), dense.At(p*width))
			}
			assert.Equal(t, float64(participants*(participants+1)/2), dense.At(participants*width+width-1))
		}
	}
}

func TestAllReduceSparseResult(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)

	input := sparseInput(t, 0, 0, 1, 2)
	work, err := groups[0].AllReduceSparse([]*device.SparseTensor{input}, AllReduceOptions{})
	require.NoError(t, err)
	require.NoError(t, work.Wait(0))

	out, err := work.SparseResult()
	require.NoError(t, err)
	assert.Same(t, input, out[0])
	assert.Equal(t, OpAllReduceSparse, work.OpType())

	// a dense work has no sparse result
	dense, err := groups[0].AllReduce(env.tensors(func(int) float64 { return 1 }, 1), AllReduceOptions{})
	require.NoError(t, err)
	require.NoError(t, dense.Wait(0))
	_, err = dense.SparseResult()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAllReduceSparseRejectsOps(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)

	for _, op := range []ccl.ReduceOp{ccl.Product, ccl.Min, ccl.Max, ccl.Avg} {
		_, err := groups[0].AllReduceSparse([]*device.SparseTensor{sparseInput(t, 0, 0, 1, 1)}, AllReduceOptions{ReduceOp: op})
		assert.ErrorIs(t, err, ErrUnsupported, op.String())
	}
	assert.Zero(t, groups[0].SequenceNumberForGroup())
}

func TestUnionIndices(t *testing.T) {
	counts, err := device.FromValues(0, device.Int64, []int{2}, []float64{2, 1})
	require.NoError(t, err)
	indices, err := device.FromValues(0, device.Int64, []int{6}, []float64{4, 0, -1, 0, -1, -1})
	require.NoError(t, err)

	union, err := unionIndices(counts, indices, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4}, union)

	// participant 1 announces more rows than it sent
	counts.Set(1, 2)
	_, err = unionIndices(counts, indices, 2, 3)
	assert.ErrorIs(t, err, ErrOperation)
}
