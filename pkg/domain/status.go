package domain

// AuthStatus is the outcome of a single module operation or of a whole chain.
// Values are compared by membership in a StatusSet, never by ordering.
type AuthStatus string

const (
	// Success indicates the message was validated and the subject populated.
	Success AuthStatus = "success"
	// SendSuccess indicates the message is ready to be sent.
	SendSuccess AuthStatus = "send_success"
	// SendFailure indicates processing failed and a failure response should be sent.
	SendFailure AuthStatus = "send_failure"
	// SendContinue indicates the exchange needs another round trip.
	SendContinue AuthStatus = "send_continue"
	// Failure indicates processing failed without a response to send.
	Failure AuthStatus = "failure"
)

// IsZero reports whether no status was recorded (the slot did not run).
func (s AuthStatus) IsZero() bool {
	return s == ""
}

func (s AuthStatus) String() string {
	if s == "" {
		return "none"
	}
	return string(s)
}

// StatusSet is the set of statuses that count as "continue processing" for one
// operation. Order matters only for First, which names the default returned
// when no module ran.
type StatusSet []AuthStatus

// Contains reports whether status is a member of the set.
func (s StatusSet) Contains(status AuthStatus) bool {
	for _, candidate := range s {
		if candidate == status {
			return true
		}
	}
	return false
}

// First returns the designated default success value of the set.
func (s StatusSet) First() AuthStatus {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Per-operation success sets.
var (
	ValidateSuccess = StatusSet{Success}
	SecureSuccess   = StatusSet{SendSuccess}
)
