package domain

// Principal is the classified identity behind a verified credential: a
// logged-in user or a trusted calling service. Handlers type-switch on the
// concrete type rather than probing nullable fields.
type Principal interface {
	// Subject returns the stable identifier for logging and audit.
	Subject() string
}

// UserPrincipal carries the full user attribute set, permission level
// included.
type UserPrincipal struct {
	User      UserAttributes
	SessionID string
}

func (p UserPrincipal) Subject() string { return p.User.Sub }

// ServicePrincipal identifies a trusted inter-service call. It is exempt
// from user-permission checks by policy; the target application may still
// apply its own service-level authorization.
type ServicePrincipal struct {
	CallingService string
	TargetService  string
}

func (p ServicePrincipal) Subject() string { return "service:" + p.CallingService }
