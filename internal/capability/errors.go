package capability

import "errors"

// ErrInvalidParams is returned when an instruction lacks a required parameter.
var ErrInvalidParams = errors.New("capability: invalid params")
