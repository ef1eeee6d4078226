package goflagclient

import (
	"errors"

	"github.com/TimurManjosov/goflagclient/internal/reconcile"
)

var (
	// ErrConfiguration flags invalid or missing init parameters. Never
	// retried; fix the call.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSourceUnavailable means no data source could populate the cache
	// during SetContext.
	ErrSourceUnavailable = reconcile.ErrSourceUnavailable

	// ErrNotFound is returned for an unknown feature or property id.
	ErrNotFound = errors.New("not found")

	// ErrNoContext means SetContext has not successfully completed yet.
	ErrNoContext = errors.New("configuration context not set")
)
