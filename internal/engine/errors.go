package engine

import "errors"

// ErrInvalidSizing is returned by PlaceOpen when the reference price or the
// computed quantity is zero or negative. It is a local precondition failure;
// no order is sent.
var ErrInvalidSizing = errors.New("engine: invalid order sizing")
