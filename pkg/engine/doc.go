// Package engine is the composition root of the netpilot chat client. It
// builds model providers, connects the MCP tool servers named in the
// configuration, and hands frontends (terminal, web) a Session to talk to.
// Frontends observe agent activity through an EventBus and never wire the
// lower-level packages themselves.
package engine
