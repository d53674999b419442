// Package domain defines the core types and contracts of the authentication
// chain: status codes, message protection policies, message and subject
// carriers, the module contracts, and callbacks.
//
// This package has ZERO external dependencies outside the Go standard library.
// Everything else in the module (loader, registry, authcontext, cache) consumes
// these types; the dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// Module implementations live outside this package and only need to satisfy
// ClientModule or ServerModule.
package domain
