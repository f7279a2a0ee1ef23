package discovery

import "errors"

var ErrNoService = errors.New("discovery: no service found")
