// Package llm defines the completion-service boundary used by the chat flow:
// messages, function tools and the function calls a model selects.
// Provider adapters live in sub-packages.
package llm
