// Package providers groups the LLM completion adapters. Each sub-package
// embeds [github.com/germanamz/netpilot/pkg/modeladapter.ModelAdapter] and
// implements Completer for one API:
//   - openai: Chat Completions with function tools
//   - gemini: generateContent with function declarations
//   - company: an internal completion endpoint that has no native tool
//     calling; tool calls are carried in fenced JSON blocks
package providers
