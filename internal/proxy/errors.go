package proxy

// JSON bodies returned when forwarding fails. Upstream error details never
// reach the client; they go to the log instead.
const (
	// errUpstreamFailed is the 500 body for transport failures.
	errUpstreamFailed = `{"message":"Internal server error","error":"upstream request failed"}`

	// errUpstreamUnavailable is the 503 body when the circuit is open.
	errUpstreamUnavailable = `{"success":false,"message":"Service temporarily unavailable"}`

	// errGatewayTimeout is the 504 body when the upstream deadline expires.
	errGatewayTimeout = `{"success":false,"message":"Upstream timed out"}`
)
