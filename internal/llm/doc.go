// Package llm defines the chat-completion contract the research agents
// depend on. Provider adapters live in sub-packages (openai, ollama) so the
// backend can be swapped through configuration.
package llm
