package parser

import "errors"

var ErrUnknownRule = errors.New("unknown parse rule")
