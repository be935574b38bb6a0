// Package llm defines the provider-neutral contract used by the AI subsystem
// to call large language models. Concrete providers live in sub-packages.
package llm
