package shell

import (
	"os"
	"os/signal"
	"syscall"
)

// RunUntilSignal block until SIGINT or SIGTERM and return it
func RunUntilSignal() os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	return <-sigs
}
