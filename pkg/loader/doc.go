// Package loader is the construction boundary for auth modules and module
// configuration parsers.
//
// Modules are registered under a stable identifier ("kind" or "kind@version")
// plus optional aliases, and constructed on demand by Instantiate. Every
// failure (unknown identifier, constructor error, constructor panic, nil
// instance) is reported uniformly as a *LoadError matching domain.ErrModuleLoad.
package loader
