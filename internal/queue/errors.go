package queue

import "errors"

var ErrMalformedInput = errors.New("malformed input")
