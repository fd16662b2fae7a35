package authcore

import "time"

// SecurityReport summarizes the protections a built engine runs with.
type SecurityReport struct {
	ProductionMode      bool
	SigningAlgorithm    string
	TokenTTL            time.Duration
	PasswordCost        int
	PasswordMinLength   int
	RateLimitingActive  bool
	RateLimitBackend    string
	PerEndpointLimits   bool
	SecureCookies       bool
	SessionsActive      bool
	OAuthActive         bool
	PasswordResetActive bool
	AuditActive         bool
}

type costReporter interface {
	Cost() int
}

// SecurityReport describes the running configuration. The password cost is
// read from the hasher when it reports one.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cost := e.config.Password.Cost
	if cr, ok := e.hasher.(costReporter); ok {
		cost = cr.Cost()
	}

	backend := ""
	if e.limiter != nil {
		backend = e.config.RateLimit.Backend
	}

	return SecurityReport{
		ProductionMode:      e.config.IsProduction(),
		SigningAlgorithm:    "HS256",
		TokenTTL:            e.tokens.TTL(),
		PasswordCost:        cost,
		PasswordMinLength:   e.config.Password.MinLength,
		RateLimitingActive:  e.limiter != nil,
		RateLimitBackend:    backend,
		PerEndpointLimits:   e.config.RateLimit.PerEndpoint,
		SecureCookies:       e.config.IsProduction(),
		SessionsActive:      e.sessions != nil,
		OAuthActive:         e.OAuthEnabled(),
		PasswordResetActive: e.mailer != nil,
		AuditActive:         e.config.Audit.Enabled,
	}
}
