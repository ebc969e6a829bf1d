package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Poll succeeded
	SymbolFail     = "✗" // Poll failed
	SymbolPending  = "○" // Host not yet started
	SymbolProgress = "◐" // Host polling
	SymbolComplete = "●" // Host finished its window
	SymbolSkipped  = "⊘" // Host aborted
	SymbolWarning  = "⚠"
)
