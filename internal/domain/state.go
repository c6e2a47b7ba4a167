package domain

// Backend discriminants as reported in the "@type" field of TDLib authorization states.
const (
	TypeWaitParameters    = "authorizationStateWaitTdlibParameters"
	TypeWaitEncryptionKey = "authorizationStateWaitEncryptionKey"
	TypeWaitPhoneNumber   = "authorizationStateWaitPhoneNumber"
	TypeWaitCode          = "authorizationStateWaitCode"
	TypeWaitPassword      = "authorizationStateWaitPassword"
	TypeReady             = "authorizationStateReady"
)

// AuthState is the last observed backend authorization state.
// The set of variants is closed: every implementation lives in this file, and
// consumers switch over the concrete types with StateOther as the catch-all.
type AuthState interface {
	// Discriminant returns the backend "@type" tag of the state.
	Discriminant() string
	// Payload returns a copy of the raw state object as received from the backend.
	Payload() map[string]any
	authState()
}

type statePayload struct {
	raw map[string]any
}

func (s statePayload) Payload() map[string]any {
	return clonePayload(s.raw)
}

func (statePayload) authState() {}

// StateWaitParameters asks for the client configuration (paths, api id/hash, device fields).
type StateWaitParameters struct{ statePayload }

func (StateWaitParameters) Discriminant() string { return TypeWaitParameters }

// StateWaitEncryptionKey asks for the local database encryption key.
type StateWaitEncryptionKey struct{ statePayload }

func (StateWaitEncryptionKey) Discriminant() string { return TypeWaitEncryptionKey }

// StateWaitPhoneNumber asks for the account phone number.
type StateWaitPhoneNumber struct{ statePayload }

func (StateWaitPhoneNumber) Discriminant() string { return TypeWaitPhoneNumber }

// StateWaitCode means a one-time code was delivered and must be submitted externally.
type StateWaitCode struct{ statePayload }

func (StateWaitCode) Discriminant() string { return TypeWaitCode }

// StateWaitPassword means the account has two-factor authentication enabled.
type StateWaitPassword struct {
	statePayload
	Hint string
}

func (StateWaitPassword) Discriminant() string { return TypeWaitPassword }

// StateReady is the terminal authorized state.
type StateReady struct{ statePayload }

func (StateReady) Discriminant() string { return TypeReady }

// StateOther carries any discriminant this service does not act on.
type StateOther struct {
	statePayload
	Type string
}

func (s StateOther) Discriminant() string { return s.Type }

// ParseAuthState maps a raw backend object onto the matching variant.
// A nil payload or a missing "@type" yields StateOther with an empty tag.
func ParseAuthState(payload map[string]any) AuthState {
	base := statePayload{raw: clonePayload(payload)}
	tag, _ := payload["@type"].(string)
	switch tag {
	case TypeWaitParameters:
		return StateWaitParameters{base}
	case TypeWaitEncryptionKey:
		return StateWaitEncryptionKey{base}
	case TypeWaitPhoneNumber:
		return StateWaitPhoneNumber{base}
	case TypeWaitCode:
		return StateWaitCode{base}
	case TypeWaitPassword:
		hint, _ := payload["password_hint"].(string)
		return StateWaitPassword{statePayload: base, Hint: hint}
	case TypeReady:
		return StateReady{base}
	default:
		return StateOther{statePayload: base, Type: tag}
	}
}

// NewState builds a state with only its discriminant set. Mostly used by tests and fakes.
func NewState(discriminant string) AuthState {
	return ParseAuthState(map[string]any{"@type": discriminant})
}

// SameDiscriminant reports whether both states carry the same tag. Nil never matches.
func SameDiscriminant(a, b AuthState) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Discriminant() == b.Discriminant()
}

// StatusOf maps a state onto the externally visible status.
func StatusOf(state AuthState) Status {
	switch state.(type) {
	case StateWaitPhoneNumber:
		return StatusAwaitingPhone
	case StateWaitCode:
		return StatusAwaitingCode
	case StateWaitPassword:
		return StatusAwaitingPassword
	case StateReady:
		return StatusAuthorized
	default:
		return StatusUnknown
	}
}

func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = clonePayload(nested)
			continue
		}
		out[k] = v
	}
	return out
}
