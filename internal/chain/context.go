// Package chain reconstructs causal decision chains from the audit log: it
// orders events within a correlation id, verifies their integrity, and
// checks the sequence against known causal templates.
package chain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Context carries the correlation identity propagated through every
// governance operation triggered by one root action.
type Context struct {
	TraceID string
	User    string
	Agent   string
	Tool    string
}

// New creates a context with a fresh 32-character hex trace id.
func New(user, agent, tool string) Context {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	return Context{
		TraceID: hex.EncodeToString(raw),
		User:    user,
		Agent:   agent,
		Tool:    tool,
	}
}

// HeaderValue renders the context as a propagation header:
// trace=<id>[;user=<u>][;agent=<a>][;tool=<t>]. Empty attribution fields are
// omitted.
func (c Context) HeaderValue() string {
	var b strings.Builder
	b.WriteString("trace=")
	b.WriteString(c.TraceID)
	if c.User != "" {
		b.WriteString(";user=")
		b.WriteString(c.User)
	}
	if c.Agent != "" {
		b.WriteString(";agent=")
		b.WriteString(c.Agent)
	}
	if c.Tool != "" {
		b.WriteString(";tool=")
		b.WriteString(c.Tool)
	}
	return b.String()
}

// ParseHeader parses a propagation header back into a context.
func ParseHeader(value string) (Context, error) {
	var c Context
	for _, part := range strings.Split(value, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Context{}, govererr.Validationf("malformed header segment %q", part)
		}
		switch key {
		case "trace":
			c.TraceID = val
		case "user":
			c.User = val
		case "agent":
			c.Agent = val
		case "tool":
			c.Tool = val
		default:
			return Context{}, govererr.Validationf("unknown header key %q", key)
		}
	}
	if c.TraceID == "" {
		return Context{}, govererr.Validationf("header missing trace id")
	}
	return c, nil
}
