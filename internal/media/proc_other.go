//go:build !unix

package media

import "os/exec"

// configureProcess keeps the exec.CommandContext default of killing the
// process on cancellation.
func configureProcess(_ *exec.Cmd) {}
