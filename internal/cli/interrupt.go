package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a context on SIGINT/SIGTERM and prints a farewell.
type InterruptHandler struct {
	writer      io.Writer
	resumeHint  string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{writer: writer}
}

// HandleInterrupts returns a context canceled on the first interrupt.
// A non-empty resumeHint is printed as the command that picks up where the user left off.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, resumeHint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	h.resumeHint = resumeHint

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			h.interrupt()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func (h *InterruptHandler) interrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interrupted {
		return
	}
	h.interrupted = true

	msg := "\n\n" + FormatWarning("Interrupted!")
	if h.resumeHint != "" {
		msg += "\n" + FormatInfo("Resume with: "+h.resumeHint)
	}
	msg += "\n" + FormatInfo("Sampai jumpa! "+WalletIcon) + "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
