//go:build !linux

package slab

import (
	"fmt"

	zcc "github.com/behrlich/go-zcc"
)

// UringFixed requires io_uring and is only available on linux.
type UringFixed struct{}

// NewUringFixed is unsupported on this platform.
func NewUringFixed(id zcc.SlabID, totalPages int, pageSize zcc.PageSize, maxSegments int) (*UringFixed, error) {
	return nil, fmt.Errorf("io_uring fixed-buffer slabs require linux")
}
