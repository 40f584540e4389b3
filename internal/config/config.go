// Package config provides configuration loading and validation for the
// edge services. Configuration is read once at startup from a YAML file,
// overridden from the environment, validated, and treated as immutable for
// the lifetime of the process.
package config

// Log holds logging configuration shared by all services.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Redis holds connection settings for the shared counter/cache store.
type Redis struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	Timeout  Duration `yaml:"timeout"`
}

// Broker holds settings for the AMQP event broker connection.
type Broker struct {
	URL string `yaml:"url"`

	// Exchange is the topic exchange lifecycle events are published to.
	Exchange string `yaml:"exchange"`

	// ReconnectInitial and ReconnectMax bound the backoff between
	// reconnection attempts after a broker disconnect.
	ReconnectInitial Duration `yaml:"reconnectInitial"`
	ReconnectMax     Duration `yaml:"reconnectMax"`

	// ConnectRetries is the number of connection attempts at startup
	// before the process gives up and exits.
	ConnectRetries int `yaml:"connectRetries"`

	// HandlerRetries caps redelivery of a failing event before it is
	// routed to the poison topic.
	HandlerRetries int `yaml:"handlerRetries"`

	// PoisonTopic receives events whose handlers exhausted their retries.
	PoisonTopic string `yaml:"poisonTopic"`
}

// RateLimit holds the two rate limiting policies applied at the edge.
type RateLimit struct {
	// Sensitive is the fixed-window quota for sensitive routes
	// (authentication endpoints).
	Sensitive WindowQuota `yaml:"sensitive"`

	// General is the token-bucket quota applied to all other routes.
	General BucketQuota `yaml:"general"`
}

// WindowQuota is a fixed-window limit: at most Requests per Window per client.
type WindowQuota struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// BucketQuota is a token-bucket limit: Rate tokens per second, Burst capacity.
type BucketQuota struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Route describes a single gateway routing rule. Rules are matched in
// declaration order, first match wins.
type Route struct {
	Name string `yaml:"name"`

	// PathPrefix is matched against the inbound request path at segment
	// boundaries.
	PathPrefix string `yaml:"pathPrefix"`

	// Target is the backend base URL requests are forwarded to.
	Target string `yaml:"target"`

	// RequiresAuth requests a verified principal before forwarding.
	RequiresAuth bool `yaml:"requiresAuth"`

	// Sensitive applies the fixed-window quota instead of the general one.
	Sensitive bool `yaml:"sensitive"`

	// StripPrefix and RewritePrefix rewrite the forwarded path:
	// StripPrefix is removed from the front and RewritePrefix put in its
	// place ("/v1" -> "/api").
	StripPrefix   string `yaml:"stripPrefix"`
	RewritePrefix string `yaml:"rewritePrefix"`
}

// Auth holds token verification settings.
type Auth struct {
	// JWTSecret is the HMAC secret access tokens are signed with.
	// Usually supplied via the JWT_SECRET environment variable.
	JWTSecret string `yaml:"jwtSecret"`

	// Issuer, when set, must match the token "iss" claim.
	Issuer string `yaml:"issuer"`
}

// Upstream holds settings for forwarded backend calls.
type Upstream struct {
	// Timeout bounds each forwarded request.
	Timeout Duration `yaml:"timeout"`

	// BreakerFailures is the consecutive upstream failure count that
	// trips the per-target circuit breaker.
	BreakerFailures int `yaml:"breakerFailures"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown Duration `yaml:"breakerCooldown"`
}

// Gateway is the configuration for the gateway process.
type Gateway struct {
	Listen         string    `yaml:"listen"`
	MetricsListen  string    `yaml:"metricsListen"`
	Log            Log       `yaml:"log"`
	Redis          Redis     `yaml:"redis"`
	TrustedProxies []string  `yaml:"trustedProxies"`
	Auth           Auth      `yaml:"auth"`
	RateLimit      RateLimit `yaml:"rateLimit"`
	Upstream       Upstream  `yaml:"upstream"`
	Routes         []Route   `yaml:"routes"`
}

// Cache holds read-path cache settings.
type Cache struct {
	// TTL is the lifetime of a cached query result.
	TTL Duration `yaml:"ttl"`

	// Prefix namespaces cache keys ("search:").
	Prefix string `yaml:"prefix"`
}

// Search is the configuration for the search read-service process.
type Search struct {
	Listen         string    `yaml:"listen"`
	MetricsListen  string    `yaml:"metricsListen"`
	Log            Log       `yaml:"log"`
	Redis          Redis     `yaml:"redis"`
	Broker         Broker    `yaml:"broker"`
	Cache          Cache     `yaml:"cache"`
	RateLimit      RateLimit `yaml:"rateLimit"`
	TrustedProxies []string  `yaml:"trustedProxies"`
}

// Post is the configuration for the post write-service process.
type Post struct {
	Listen         string    `yaml:"listen"`
	MetricsListen  string    `yaml:"metricsListen"`
	Log            Log       `yaml:"log"`
	Redis          Redis     `yaml:"redis"`
	Broker         Broker    `yaml:"broker"`
	RateLimit      RateLimit `yaml:"rateLimit"`
	TrustedProxies []string  `yaml:"trustedProxies"`
}
