package statemachine

import (
	"reflect"
	"sync"
)

const lockStripes = 256

// instanceLocks serializes compare-and-swap calls per entity instance.
// Entities implementing sync.Locker are locked directly; any other pointer is
// mapped onto a fixed set of striped mutexes by address, so two distinct
// entities may share a stripe but one entity always maps to the same one.
type instanceLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *instanceLocks) lock(entity any) (unlock func()) {
	if locker, ok := entity.(sync.Locker); ok {
		locker.Lock()
		return locker.Unlock
	}

	m := &l.stripes[stripe(entity)]
	m.Lock()
	return m.Unlock
}

func stripe(entity any) int {
	v := reflect.ValueOf(entity)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		addr := uint64(v.Pointer())
		// Fibonacci hashing spreads the aligned low bits across all stripes.
		return int((addr * 0x9E3779B97F4A7C15) >> 56)
	default:
		return 0
	}
}
