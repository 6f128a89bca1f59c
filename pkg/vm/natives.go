package vm

import (
	"time"

	"github.com/kristofer/smog/pkg/value"
)

// defineNatives installs the host-provided native-function registry into
// globals before any source runs (spec.md §6 "Native-function registry").
func (vm *VM) defineNatives() {
	vm.defineNative("clock", clockNative)
}

func (vm *VM) defineNative(name string, fn func(args []value.Value) (value.Value, error)) {
	n := vm.heap.NewNative(name, fn)
	vm.globals.Put(vm.heap.InternString(name), value.FromObj(n))
}

// clockNative returns seconds elapsed since the Unix epoch, smog's minimal
// example native (spec.md §6).
func clockNative(args []value.Value) (value.Value, error) {
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}
