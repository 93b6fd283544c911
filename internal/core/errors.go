package core

import "errors"

var (
	ErrProjectTooLarge = errors.New("project exceeds per-project size limit")
	ErrTotalLimit      = errors.New("total project size limit reached")
	ErrContentWipe     = errors.New("write would wipe existing document content")
	ErrEmptyOverwrite  = errors.New("near-empty payload would overwrite substantial project")
	ErrBackingStore    = errors.New("backing store unavailable")
)

// ErrCode maps a guarded-write failure to its wire error code.
func ErrCode(err error) string {
	switch {
	case errors.Is(err, ErrProjectTooLarge):
		return "project_too_large"
	case errors.Is(err, ErrTotalLimit):
		return "project_total_limit_reached"
	case errors.Is(err, ErrContentWipe):
		return "content_wipe"
	case errors.Is(err, ErrEmptyOverwrite):
		return "empty_overwrite"
	case errors.Is(err, ErrBackingStore):
		return "backing_store_error"
	default:
		return "invalid_payload"
	}
}
