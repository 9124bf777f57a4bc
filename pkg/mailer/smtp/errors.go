package smtp

import "errors"

var ErrHostRequired = errors.New("smtp: host is required")
