package overlay

import "errors"

var (
	// ErrDuplicatePrimaryTag: the host already carries a primary tag.
	ErrDuplicatePrimaryTag = errors.New("overlay: host already has a primary tag")
	// ErrInvalidLineIndex: line 0 can only be removed by DeleteTag.
	ErrInvalidLineIndex = errors.New("overlay: line 0 cannot be removed, delete the tag instead")
	ErrLineOutOfRange   = errors.New("overlay: line index out of range")
	// ErrNoTag: no overlay is tracked for the host/viewer pair.
	ErrNoTag = errors.New("overlay: no tag for host and viewer")
)
