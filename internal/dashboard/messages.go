package dashboard

import "github.com/devpoll/devpoll/internal/poll"

// ResultMsg carries one result or end marker from the pool.
type ResultMsg struct {
	Result poll.PollResult
}

// RunDoneMsg signals the pool has finished.
type RunDoneMsg struct {
	Summary *poll.Summary
	Err     error
}
