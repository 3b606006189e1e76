package api

import "errors"

// ErrBadRequest marks malformed query or path input.
var ErrBadRequest = errors.New("bad request")
