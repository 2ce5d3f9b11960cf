package pg

import (
	"github.com/ValentinKolb/dCCL/lib/device"
)

// checkDevices validates a device set against the library
func (pg *ProcessGroup) checkDevices(devices []int) error {
	if len(devices) == 0 {
		return newError(ErrCConfig, nil, "device set must not be empty")
	}
	n := pg.opts.Library.DeviceCount()
	seen := make(map[int]bool, len(devices))
	for _, d := range devices {
		if d < 0 || d >= n {
			return newError(ErrCConfig, nil, "invalid device %d, library drives devices [0, %d)", d, n)
		}
		if seen[d] {
			return newError(ErrCConfig, nil, "device %d appears twice in device set %v", d, devices)
		}
		seen[d] = true
	}
	return nil
}

// checkTensors validates one tensor per device and returns the devices
func (pg *ProcessGroup) checkTensors(tensors []*device.Tensor) ([]int, error) {
	if len(tensors) == 0 {
		return nil, newError(ErrCInvalidArgument, nil, "tensor list must not be empty")
	}
	devices := make([]int, len(tensors))
	for i, t := range tensors {
		if t == nil {
			return nil, newError(ErrCInvalidArgument, nil, "tensor %d is nil", i)
		}
		if t.DType() != tensors[0].DType() {
			return nil, newError(ErrCInvalidArgument, nil, "tensors must have identical type, tensor %d is %s, tensor 0 is %s", i, t.DType(), tensors[0].DType())
		}
		if !t.SameShape(tensors[0]) {
			return nil, newError(ErrCInvalidArgument, nil, "tensors must have identical size, tensor %d has shape %v, tensor 0 has %v", i, t.Shape(), tensors[0].Shape())
		}
		devices[i] = t.Device()
	}
	if err := pg.checkDevices(devices); err != nil {
		return nil, newError(ErrCInvalidArgument, err, "tensors must be on distinct valid devices")
	}
	return devices, nil
}

// checkOutputs validates a per-device list of world size tensors matching ref
func (pg *ProcessGroup) checkOutputs(name string, lists [][]*device.Tensor, refs []*device.Tensor) error {
	if len(lists) != len(refs) {
		return newError(ErrCInvalidArgument, nil, "%s lists: got %d, need one per device (%d)", name, len(lists), len(refs))
	}
	world := pg.size * len(refs)
	for i, list := range lists {
		if len(list) != world {
			return newError(ErrCInvalidArgument, nil, "%s list %d holds %d tensors, need world size %d", name, i, len(list), world)
		}
		for j, t := range list {
			switch {
			case t == nil:
				return newError(ErrCInvalidArgument, nil, "%s tensor [%d][%d] is nil", name, i, j)
			case t.Device() != refs[i].Device():
				return newError(ErrCInvalidArgument, nil, "%s tensor [%d][%d] is on device %d, expected %d", name, i, j, t.Device(), refs[i].Device())
			case t.DType() != refs[i].DType():
				return newError(ErrCInvalidArgument, nil, "%s tensor [%d][%d] is %s, expected %s", name, i, j, t.DType(), refs[i].DType())
			case t.Numel() != refs[i].Numel():
				return newError(ErrCInvalidArgument, nil, "%s tensor [%d][%d] has %d elements, expected %d", name, i, j, t.Numel(), refs[i].Numel())
			}
		}
	}
	return nil
}

func (pg *ProcessGroup) checkRoot(rootRank, rootTensor, ntensors int) error {
	if rootRank < 0 || rootRank >= pg.size {
		return newError(ErrCInvalidArgument, nil, "invalid root rank %d, group has %d ranks", rootRank, pg.size)
	}
	if rootTensor < 0 || rootTensor >= ntensors {
		return newError(ErrCInvalidArgument, nil, "invalid root tensor %d, %d tensors given", rootTensor, ntensors)
	}
	return nil
}

// checkBase validates the single tensor pair of a flattened collective, big
// must hold world size times the elements of small
func (pg *ProcessGroup) checkBase(big, small *device.Tensor, bigName, smallName string) error {
	if big == nil || small == nil {
		return newError(ErrCInvalidArgument, nil, "%s and %s must not be nil", bigName, smallName)
	}
	if big.Device() != small.Device() {
		return newError(ErrCInvalidArgument, nil, "%s is on device %d, %s on device %d", bigName, big.Device(), smallName, small.Device())
	}
	if big.DType() != small.DType() {
		return newError(ErrCInvalidArgument, nil, "%s is %s, %s is %s", bigName, big.DType(), smallName, small.DType())
	}
	if big.Numel() != pg.size*small.Numel() {
		return newError(ErrCInvalidArgument, nil, "%s size must be equal to world size times %s size (%d != %d * %d)",
			bigName, smallName, big.Numel(), pg.size, small.Numel())
	}
	return pg.checkDevices([]int{big.Device()})
}
