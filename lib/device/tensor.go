package device

import (
	"fmt"
	"strings"
)

// Tensor is a dense array of elements resident on one device.
type Tensor struct {
	device int
	dtype  DType
	shape  []int
	data   []float64
}

// NewTensor allocates a zero filled tensor on the given device.
// A tensor without dimensions is a scalar holding one element.
func NewTensor(device int, dtype DType, shape ...int) *Tensor {
	return &Tensor{
		device: device,
		dtype:  dtype,
		shape:  append([]int(nil), shape...),
		data:   make([]float64, numelOf(shape)),
	}
}

// FromValues creates a tensor of the given shape holding a copy of values.
func FromValues(device int, dtype DType, shape []int, values []float64) (*Tensor, error) {
	if n := numelOf(shape); n != len(values) {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d values", shape, n, len(values))
	}
	t := NewTensor(device, dtype, shape...)
	for i, v := range values {
		t.data[i] = dtype.Round(v)
	}
	return t, nil
}

func numelOf(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("negative dimension in shape %v", shape))
		}
		n *= s
	}
	return n
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (t *Tensor) Device() int  { return t.device }
func (t *Tensor) DType() DType { return t.dtype }
func (t *Tensor) Numel() int   { return len(t.data) }

// Shape returns a copy of the tensor dimensions
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Nbytes returns the size of the tensor on the device
func (t *Tensor) Nbytes() int {
	return len(t.data) * t.dtype.Size()
}

// Data returns the backing storage. Writes through the returned slice bypass
// dtype rounding.
func (t *Tensor) Data() []float64 {
	return t.data
}

func (t *Tensor) At(i int) float64 {
	return t.data[i]
}

func (t *Tensor) Set(i int, v float64) {
	t.data[i] = t.dtype.Round(v)
}

// Fill sets every element to v and returns the tensor.
func (t *Tensor) Fill(v float64) *Tensor {
	v = t.dtype.Round(v)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// --------------------------------------------------------------------------
// Shape handling
// --------------------------------------------------------------------------

// SameShape reports whether both tensors have identical dimensions
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

// View returns a flat tensor of numel elements that shares storage with t,
// starting at element offset.
func (t *Tensor) View(offset, numel int) (*Tensor, error) {
	if offset < 0 || numel < 0 || offset+numel > len(t.data) {
		return nil, fmt.Errorf("view [%d, %d) out of range for tensor with %d elements", offset, offset+numel, len(t.data))
	}
	return &Tensor{
		device: t.device,
		dtype:  t.dtype,
		shape:  []int{numel},
		data:   t.data[offset : offset+numel : offset+numel],
	}, nil
}

// Reshape returns a tensor sharing storage with t with new dimensions.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numelOf(shape) != len(t.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{device: t.device, dtype: t.dtype, shape: append([]int(nil), shape...), data: t.data}, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{device: t.device, dtype: t.dtype, shape: t.Shape(), data: make([]float64, len(t.data))}
	copy(c.data, t.data)
	return c
}

// CopyFrom overwrites the elements of t with those of src. Only the element
// count has to match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if len(src.data) != len(t.data) {
		return fmt.Errorf("copy of %d elements into tensor of %d elements", len(src.data), len(t.data))
	}
	if src.dtype == t.dtype {
		copy(t.data, src.data)
		return nil
	}
	for i, v := range src.data {
		t.data[i] = t.dtype.Round(v)
	}
	return nil
}

// Equal reports whether both tensors have the same dtype, shape and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.dtype != o.dtype || !t.SameShape(o) {
		return false
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(device=%d, dtype=%s, shape=%v", t.device, t.dtype, t.shape)
	if len(t.data) <= 8 {
		fmt.Fprintf(&sb, ", data=%v", t.data)
	}
	sb.WriteString(")")
	return sb.String()
}
