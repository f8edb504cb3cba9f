package dbmanager

import "errors"

// ErrValidation reports a caller-supplied precondition violation: a
// reserved or empty name, an already-open name on Open, or an absent name
// on Close/Store/Read/Remove/Keys. It is always wrapped with
// fmt.Errorf("%w: ...") to carry the specific reason.
var ErrValidation = errors.New("dbmanager: validation error")
