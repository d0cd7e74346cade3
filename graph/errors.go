package graph

import "errors"

var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrInvalidEntity     = errors.New("invalid entity name")
	ErrInvalidAttributes = errors.New("invalid attributes")
	ErrNoQueue           = errors.New("confined context requires an owner queue")
)
