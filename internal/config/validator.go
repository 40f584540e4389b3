package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateGateway checks a gateway configuration for startup-fatal errors.
func ValidateGateway(cfg *Gateway) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if len(cfg.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}

	seen := make(map[string]bool, len(cfg.Routes))
	for i, route := range cfg.Routes {
		if err := validateRoute(&route); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, route.Name, err)
		}
		if seen[route.PathPrefix] {
			return fmt.Errorf("route %d (%s): duplicate path prefix %s", i, route.Name, route.PathPrefix)
		}
		seen[route.PathPrefix] = true

		if route.RequiresAuth && cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("route %d (%s): requiresAuth is set but no JWT secret is configured", i, route.Name)
		}
	}

	if err := validateRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	if cfg.Upstream.Timeout.Duration() <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	return nil
}

func validateRoute(route *Route) error {
	if route.PathPrefix == "" || !strings.HasPrefix(route.PathPrefix, "/") {
		return fmt.Errorf("path prefix must start with /")
	}
	if route.Target == "" {
		return fmt.Errorf("target is required")
	}
	u, err := url.Parse(route.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target must be an absolute URL: %s", route.Target)
	}
	if route.StripPrefix != "" && !strings.HasPrefix(route.PathPrefix, route.StripPrefix) {
		return fmt.Errorf("strip prefix %s is not a prefix of %s", route.StripPrefix, route.PathPrefix)
	}
	return nil
}

func validateRateLimit(rl *RateLimit) error {
	if rl.Sensitive.Requests <= 0 {
		return fmt.Errorf("sensitive rate limit requests must be positive")
	}
	if rl.Sensitive.Window.Duration() <= 0 {
		return fmt.Errorf("sensitive rate limit window must be positive")
	}
	if rl.General.Rate <= 0 {
		return fmt.Errorf("general rate limit rate must be positive")
	}
	if rl.General.Burst <= 0 {
		return fmt.Errorf("general rate limit burst must be positive")
	}
	return nil
}

// ValidateSearch checks a search service configuration.
func ValidateSearch(cfg *Search) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if cfg.Cache.TTL.Duration() <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}
	return validateRateLimit(&cfg.RateLimit)
}

// ValidatePost checks a post service configuration.
func ValidatePost(cfg *Post) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}
	return validateRateLimit(&cfg.RateLimit)
}

func validateBroker(b *Broker) error {
	if b.URL == "" {
		return fmt.Errorf("broker url is required")
	}
	if b.HandlerRetries <= 0 {
		return fmt.Errorf("broker handler retries must be positive")
	}
	if b.PoisonTopic == "" {
		return fmt.Errorf("broker poison topic is required")
	}
	return nil
}
