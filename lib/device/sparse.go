package device

import (
	"fmt"
	"sort"
)

// SparseTensor is a row-sparse coordinate tensor. Row i of the dense tensor
// is stored in values row k when indices[k] == i; all other rows are zero.
type SparseTensor struct {
	device  int
	dtype   DType
	shape   []int
	indices []int64
	values  *Tensor
}

// NewSparseTensor builds a sparse tensor with the given dense shape. The
// indices may be unsorted and may repeat, repeated rows are summed.
func NewSparseTensor(device int, dtype DType, shape []int, indices []int64, values *Tensor) (*SparseTensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("sparse tensor needs at least one dimension")
	}
	s := &SparseTensor{device: device, dtype: dtype, shape: append([]int(nil), shape...)}
	if err := s.Set(indices, values); err != nil {
		return nil, err
	}
	return s, nil
}

// SparseFromDense converts every row of dense that has a non-zero element
// into a stored row.
func SparseFromDense(dense *Tensor) *SparseTensor {
	shape := dense.Shape()
	if len(shape) == 0 {
		shape = []int{1}
	}
	width := rowWidth(shape)

	var indices []int64
	var rows []float64
	for r := 0; r < shape[0]; r++ {
		row := dense.data[r*width : (r+1)*width]
		for _, v := range row {
			if v != 0 {
				indices = append(indices, int64(r))
				rows = append(rows, row...)
				break
			}
		}
	}

	values := &Tensor{device: dense.device, dtype: dense.dtype, shape: []int{len(indices), width}, data: rows}
	if values.data == nil {
		values.data = []float64{}
	}
	return &SparseTensor{
		device:  dense.device,
		dtype:   dense.dtype,
		shape:   shape,
		indices: indices,
		values:  values,
	}
}

func rowWidth(shape []int) int {
	return numelOf(shape[1:])
}

func (s *SparseTensor) Device() int  { return s.device }
func (s *SparseTensor) DType() DType { return s.dtype }

// Shape returns the dense dimensions
func (s *SparseTensor) Shape() []int { return append([]int(nil), s.shape...) }

// NNZ returns the number of stored rows
func (s *SparseTensor) NNZ() int { return len(s.indices) }

// RowWidth returns the number of elements in one row
func (s *SparseTensor) RowWidth() int { return rowWidth(s.shape) }

// Indices returns a copy of the stored row indices in ascending order
func (s *SparseTensor) Indices() []int64 { return append([]int64(nil), s.indices...) }

// Values returns the stored rows, shaped [NNZ, RowWidth]
func (s *SparseTensor) Values() *Tensor { return s.values }

// Set replaces the stored rows. Indices are sorted and duplicates summed.
func (s *SparseTensor) Set(indices []int64, values *Tensor) error {
	width := rowWidth(s.shape)
	if values == nil {
		return fmt.Errorf("sparse values must not be nil")
	}
	if values.Numel() != len(indices)*width {
		return fmt.Errorf("%d indices with row width %d need %d values, got %d", len(indices), width, len(indices)*width, values.Numel())
	}
	if values.device != s.device {
		return fmt.Errorf("values on device %d, sparse tensor on device %d", values.device, s.device)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= int64(s.shape[0]) {
			return fmt.Errorf("row index %d out of range [0, %d)", idx, s.shape[0])
		}
	}

	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return indices[order[a]] < indices[order[b]] })

	coalesced := make([]int64, 0, len(indices))
	data := make([]float64, 0, len(indices)*width)
	for _, k := range order {
		src := values.data[k*width : (k+1)*width]
		if n := len(coalesced); n > 0 && coalesced[n-1] == indices[k] {
			dst := data[(n-1)*width:]
			for j, v := range src {
				dst[j] = s.dtype.Round(dst[j] + v)
			}
			continue
		}
		coalesced = append(coalesced, indices[k])
		data = append(data, src...)
	}

	s.indices = coalesced
	s.values = &Tensor{device: s.device, dtype: s.dtype, shape: []int{len(coalesced), width}, data: data}
	return nil
}

// ToDense materialises the full tensor.
func (s *SparseTensor) ToDense() *Tensor {
	dense := NewTensor(s.device, s.dtype, s.shape...)
	width := rowWidth(s.shape)
	for k, idx := range s.indices {
		copy(dense.data[int(idx)*width:(int(idx)+1)*width], s.values.data[k*width:(k+1)*width])
	}
	return dense
}

func (s *SparseTensor) String() string {
	return fmt.Sprintf("SparseTensor(device=%d, dtype=%s, shape=%v, nnz=%d)", s.device, s.dtype, s.shape, len(s.indices))
}
