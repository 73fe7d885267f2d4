package protocol

// ProtocolVersion is bumped when event payloads or routes change incompatibly.
const ProtocolVersion = 1

// Connection command names, used as metric labels and rate-limit scopes.
const (
	CommandConnect            = "connect"
	CommandRequestPairingCode = "pairing-code"
	CommandDisconnect         = "disconnect"
	CommandReconnect          = "reconnect"
	CommandRefreshQR          = "refresh-qr"
	CommandStatus             = "status"
	CommandBindGroup          = "group"
)

// HTTP routes for the connection command surface. {id} is the tenant UUID.
const (
	RouteConnect     = "POST /v1/tenants/{id}/connection/connect"
	RoutePairingCode = "POST /v1/tenants/{id}/connection/pairing-code"
	RouteDisconnect  = "POST /v1/tenants/{id}/connection/disconnect"
	RouteReconnect   = "POST /v1/tenants/{id}/connection/reconnect"
	RouteRefreshQR   = "POST /v1/tenants/{id}/connection/refresh-qr"
	RouteStatus      = "GET /v1/tenants/{id}/connection/status"
	RouteEvents      = "GET /v1/tenants/{id}/connection/events"
	RouteEventsWS    = "GET /v1/tenants/{id}/connection/ws"
	RouteGroup       = "POST /v1/tenants/{id}/connection/group"
)

// Error codes returned in JSON error bodies.
const (
	ErrCodeLocked           = "locked"
	ErrCodeAlreadyConnected = "already-connected"
	ErrCodeInvalidPhone     = "invalid-phone"
	ErrCodeInvalidGroup     = "invalid-group"
	ErrCodeInvalidRequest   = "invalid-request"
	ErrCodeNotFound         = "not-found"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeRateLimited      = "rate-limited"
	ErrCodeInternal         = "internal"
)
