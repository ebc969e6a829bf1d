// Package cli implements the devpoll command-line interface.
//
// Each file holds one Cobra command registered on rootCmd from init. The
// commands are thin: they load config, build the pieces from the internal
// packages and hand off.
//
//	devpoll poll [hosts...]   - Poll hosts at an interval for a window
//	devpoll hosts             - List configured hosts or SSH aliases
//	devpoll history           - Read results recorded with --store
//	devpoll config validate   - Check the config file
//	devpoll init              - Create devpoll.yaml
//
// # Poll Flow
//
// runPoll is the whole of 'devpoll poll':
//
//  1. Load config, apply flags, validate
//  2. Select hosts and build one PollJob each
//  3. Resolve credentials up front, prompting if --ask-password
//  4. Open the sinks (stream/json/csv, CSV file, log dir, store, status server)
//  5. Run the HostPool, under the dashboard when it's a terminal
//  6. Close sinks, print the summary, pick the exit status
//
// The exit status is 0 when every host completed its window, 2 when any
// host was aborted, 130 when interrupted, and 1 for everything else.
package cli
