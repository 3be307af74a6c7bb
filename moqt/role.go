package moqt

// Role restricts the operations a session endpoint performs.
type Role uint8

const (
	// RoleBoth publishes and subscribes.
	RoleBoth Role = iota
	RolePublisher
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RoleBoth:
		return "both"
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

func (r Role) canPublish() bool {
	return r == RoleBoth || r == RolePublisher
}

func (r Role) canSubscribe() bool {
	return r == RoleBoth || r == RoleSubscriber
}

// perspective tells which end of the connection a session is.
type perspective uint8

const (
	perspectiveClient perspective = iota
	perspectiveServer
)

func (p perspective) String() string {
	if p == perspectiveClient {
		return "client"
	}
	return "server"
}
