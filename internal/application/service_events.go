package application

const (
	// eventTypeSessionCreated is emitted when a login registers a new session.
	eventTypeSessionCreated = "telegram.session.created"
	// eventTypeSessionAuthorized is emitted the first time a session reaches ready.
	eventTypeSessionAuthorized = "telegram.session.authorized"
	// eventTypeSessionClosed is emitted for every session removed from the registry.
	eventTypeSessionClosed = "telegram.session.closed"
)

const (
	operationLogin          = "login"
	operationSubmitCode     = "submit_code"
	operationSubmitPassword = "submit_password"
)
