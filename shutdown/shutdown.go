// Package shutdown funnels OS termination signals into a channel.
package shutdown

import "os"

// Await returns a channel that delivers the first termination signal.
func Await() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	Notify(ch)
	return ch
}
