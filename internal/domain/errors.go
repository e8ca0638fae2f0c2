package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrQueueFull    = errors.New("queue full")
	ErrRegistryFull = errors.New("connection registry full")
	ErrNoHistory    = errors.New("no price history in window")
)
