// Package registry tracks the auth modules configured for each auth context,
// the epoch that invalidates contexts built from older configuration, and the
// rules that reduce per-module statuses to one chain status.
package registry
