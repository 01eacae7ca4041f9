// Package shm implements the named shared memory segment used to stream a
// file between two processes.
//
// A Segment is a file under /dev/shm (or another directory) sized to hold one
// ControlBlock. The first process to Acquire a name creates and initializes
// it and becomes the Reader; the second becomes the Writer; later processes
// are Observers. Each Acquire increments the attach counter in the control
// block and each Release decrements it; the process that brings it to zero
// unlinks the file.
//
// Example usage:
//
//	seg, err := shm.Acquire(ctx, shm.Options{Name: "sm1"})
//	if err != nil {
//	  return err
//	}
//	defer seg.Release()
//	switch seg.Role() {
//	case shm.RoleReader:
//	  // fill seg.Control().Slot(0), Slot(1), ...
//	}
package shm
