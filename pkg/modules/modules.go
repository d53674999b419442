// Package modules registers the built-in auth modules with a loader registry.
package modules

import (
	"github.com/polisai/authchain/pkg/loader"
	"github.com/polisai/authchain/pkg/modules/apikey"
	"github.com/polisai/authchain/pkg/modules/jwtbearer"
	"github.com/polisai/authchain/pkg/modules/regoauth"
	"github.com/polisai/authchain/pkg/modules/static"
)

// Register adds the built-in modules to reg.
func Register(reg *loader.Registry) {
	reg.Register(jwtbearer.Kind, "v1", func() (any, error) { return jwtbearer.New(), nil }, "jwt")
	reg.Register(apikey.Kind, "v1", func() (any, error) { return apikey.New(), nil }, "apikey")
	reg.Register(regoauth.Kind, "v1", func() (any, error) { return regoauth.New(), nil }, "opa")
	reg.Register(static.Kind, "v1", func() (any, error) { return static.New(), nil }, "allow-all")
}

// NewRegistry returns a loader registry holding the built-in modules.
func NewRegistry() *loader.Registry {
	reg := loader.NewRegistry()
	Register(reg)
	return reg
}
