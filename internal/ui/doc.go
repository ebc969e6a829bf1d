// Package ui holds the terminal styling shared by devpoll's stream output,
// dashboard and table views.
//
// Colors are ANSI codes so they follow the user's terminal theme:
//
//	ColorSuccess   (green)  - Successful polls
//	ColorError     (red)    - Failed polls and aborted hosts
//	ColorWarning   (yellow) - Timeouts and warnings
//	ColorMuted     (gray)   - Secondary text, timing info
//	ColorSecondary (blue)   - Host names and in-progress indicators
//
// Symbols mark a host's or a poll's status:
//
//	SymbolSuccess  (checkmark)  - Poll succeeded
//	SymbolFail     (X)          - Poll failed
//	SymbolPending  (circle)     - Host not yet started
//	SymbolProgress (half-fill)  - Host polling
//	SymbolComplete (filled)     - Host finished its window
//	SymbolSkipped  (slashed)    - Host aborted
package ui
