package middleware

import "net/http"

// Stage is one named step of a request pipeline.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Chain is an ordered list of stages ending in a handler.
type Chain struct {
	stages []Stage
}

// Stages returns the stage names in execution order.
func (c Chain) Stages() []string {
	names := make([]string, 0, len(c.stages))
	for _, s := range c.stages {
		names = append(names, s.Name)
	}
	return names
}

// Then wraps h so the first stage runs first.
func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c.stages) - 1; i >= 0; i-- {
		h = c.stages[i].Middleware(h)
	}
	return h
}

func (c Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// Pipeline assembles the sanitize, rate-limit, authenticate and authorize
// stages in that order.
type Pipeline struct {
	Sanitize     func(http.Handler) http.Handler
	RateLimit    func(endpoint string) func(http.Handler) http.Handler
	Authenticate func(http.Handler) http.Handler
	Authorize    func(roles ...string) func(http.Handler) http.Handler
}

// Public is for unauthenticated endpoints.
func (p *Pipeline) Public(endpoint string) Chain {
	return Chain{stages: []Stage{
		{"sanitize", p.Sanitize},
		{"rate_limit", p.RateLimit(endpoint)},
	}}
}

// Authenticated additionally requires a valid access token.
func (p *Pipeline) Authenticated(endpoint string) Chain {
	c := p.Public(endpoint)
	c.stages = append(c.stages, Stage{"authenticate", p.Authenticate})
	return c
}

// Authorized additionally requires one of roles.
func (p *Pipeline) Authorized(endpoint string, roles ...string) Chain {
	c := p.Authenticated(endpoint)
	c.stages = append(c.stages, Stage{"authorize", p.Authorize(roles...)})
	return c
}
