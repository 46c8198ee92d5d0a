// Package modeladapter defines the interface LLM completion adapters implement
// and an embeddable base with the HTTP plumbing they share.
//
// Concrete adapters live in pkg/providers. Token accounting is in
// [github.com/germanamz/netpilot/pkg/modeladapter/usage].
package modeladapter
