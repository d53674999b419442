package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/polisai/authchain/pkg/domain"
)

func TestShouldStopAndReturnStatusOnEarlyStop(t *testing.T) {
	statuses := []domain.AuthStatus{domain.SendSuccess, domain.SendFailure, ""}

	assert.False(t, ShouldStop(domain.SecureSuccess, 0, statuses[0]))
	assert.True(t, ShouldStop(domain.SecureSuccess, 1, statuses[1]))
	assert.Equal(t, domain.SendFailure, ReturnStatus(domain.SecureSuccess, domain.SendFailure, statuses, 1))
}

func TestReturnStatusFullRunReturnsLast(t *testing.T) {
	statuses := []domain.AuthStatus{domain.Success, domain.Success}

	assert.Equal(t, domain.Success, ReturnStatus(domain.ValidateSuccess, domain.SendFailure, statuses, len(statuses)-1))
}

func TestReturnStatusSkipsEmptySlots(t *testing.T) {
	statuses := []domain.AuthStatus{"", domain.Success}

	assert.Equal(t, domain.Success, ReturnStatus(domain.ValidateSuccess, domain.SendFailure, statuses, 1))
}

func TestReturnStatusAllEmptyReturnsDefaultSuccess(t *testing.T) {
	assert.Equal(t, domain.Success, ReturnStatus(domain.ValidateSuccess, domain.SendFailure, []domain.AuthStatus{"", ""}, 1))
	assert.Equal(t, domain.SendSuccess, ReturnStatus(domain.SecureSuccess, domain.SendFailure, nil, -1))
}

func TestReturnStatusMultiValueSuccessSetReturnsLastRecorded(t *testing.T) {
	set := domain.StatusSet{domain.Success, domain.SendSuccess}
	statuses := []domain.AuthStatus{domain.SendSuccess, "", domain.Success, ""}

	assert.Equal(t, domain.Success, ReturnStatus(set, domain.SendFailure, statuses, 3))
}

func TestReturnStatusProperty(t *testing.T) {
	all := []domain.AuthStatus{"", domain.Success, domain.SendSuccess, domain.SendFailure, domain.SendContinue, domain.Failure}

	rapid.Check(t, func(t *rapid.T) {
		set := rapid.SampledFrom([]domain.StatusSet{domain.ValidateSuccess, domain.SecureSuccess}).Draw(t, "set")
		statuses := rapid.SliceOfN(rapid.SampledFrom(all), 0, 8).Draw(t, "statuses")

		// Drive the chain like the auth contexts do.
		stop := len(statuses) - 1
		for i, s := range statuses {
			if s.IsZero() {
				continue
			}
			if ShouldStop(set, i, s) {
				stop = i
				break
			}
		}
		got := ReturnStatus(set, domain.SendFailure, statuses, stop)

		failed := false
		lastRecorded := domain.AuthStatus("")
		for i := 0; i <= stop; i++ {
			if statuses[i].IsZero() {
				continue
			}
			if !set.Contains(statuses[i]) {
				failed = true
			}
			lastRecorded = statuses[i]
		}

		switch {
		case failed:
			if got != domain.SendFailure {
				t.Fatalf("expected failure for %v, got %s", statuses, got)
			}
		case lastRecorded.IsZero():
			if got != set.First() {
				t.Fatalf("expected default %s for %v, got %s", set.First(), statuses, got)
			}
		default:
			if got != lastRecorded {
				t.Fatalf("expected %s for %v, got %s", lastRecorded, statuses, got)
			}
		}
	})
}
