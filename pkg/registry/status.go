package registry

import "github.com/polisai/authchain/pkg/domain"

// ShouldStop reports whether the chain must stop after the module at index
// returned status: any status outside successSet halts the chain.
func ShouldStop(successSet domain.StatusSet, _ int, status domain.AuthStatus) bool {
	return !successSet.Contains(status)
}

// ReturnStatus derives the chain status from statuses[0..last]. Empty entries
// (slots that did not run) are ignored. Any recorded status outside
// successSet yields failure; otherwise the last recorded status is returned,
// or successSet.First() when nothing was recorded.
func ReturnStatus(successSet domain.StatusSet, failure domain.AuthStatus, statuses []domain.AuthStatus, last int) domain.AuthStatus {
	if last >= len(statuses) {
		last = len(statuses) - 1
	}

	result := domain.AuthStatus("")
	for i := 0; i <= last; i++ {
		status := statuses[i]
		if status.IsZero() {
			continue
		}
		if !successSet.Contains(status) {
			return failure
		}
		result = status
	}

	if result.IsZero() {
		return successSet.First()
	}
	return result
}
