package dataverse

import "errors"

// ErrInvalidArgument is wrapped by errors returned for missing or malformed arguments.
var ErrInvalidArgument = errors.New("invalid argument")
