package domain

import "context"

// Module is the part of the module contract shared by client and server modules.
type Module interface {
	// SupportedMessageTypes lists the message representations the module can process.
	SupportedMessageTypes() []MessageType

	// Initialize is called exactly once, before any other operation.
	Initialize(ctx context.Context, requestPolicy, responsePolicy *MessagePolicy, handler CallbackHandler, options map[string]any) error
}

// ClientModule secures outgoing requests and validates incoming responses.
type ClientModule interface {
	Module
	SecureRequest(ctx context.Context, msg *MessageInfo, clientSubject *Subject) (AuthStatus, error)
	ValidateResponse(ctx context.Context, msg *MessageInfo, clientSubject, serviceSubject *Subject) (AuthStatus, error)
	CleanSubject(ctx context.Context, msg *MessageInfo, subject *Subject) error
}

// ServerModule validates incoming requests and secures outgoing responses.
type ServerModule interface {
	Module
	ValidateRequest(ctx context.Context, msg *MessageInfo, clientSubject, serviceSubject *Subject) (AuthStatus, error)
	SecureResponse(ctx context.Context, msg *MessageInfo, serviceSubject *Subject) (AuthStatus, error)
	CleanSubject(ctx context.Context, msg *MessageInfo, subject *Subject) error
}

// MechanismProvider is implemented by server modules that advertise the
// authentication mechanisms they can negotiate.
type MechanismProvider interface {
	Mechanisms() []string
}

// SupportsMessageType reports whether supported covers required.
func SupportsMessageType(supported []MessageType, required MessageType) bool {
	for _, mt := range supported {
		if mt == required || mt == MessageTypeAny {
			return true
		}
	}
	return false
}
