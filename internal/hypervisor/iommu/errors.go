package iommu

import "github.com/xvisor-project/corehv/internal/hypervisor/hverrors"

var (
	errUnsupported = hverrors.ErrInvalid
	errFail        = hverrors.ErrFail
	errNoMem       = hverrors.ErrNoMem
)
