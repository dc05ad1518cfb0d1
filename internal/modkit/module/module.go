// Package module defines the contract shared by archiver modules
package module

import (
	phttp "archiver/internal/platform/net/http"
)

// Module can mount status routes and exposes a ports bundle
type Module interface {
	MountRoutes(r phttp.Router)
	Ports() any
	Name() string
}
