package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
)

const prompt = "run> "

// Console is the interactive front-end: it reads command lines from in and
// writes the prompt to out.
type Console struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	logger     zerolog.Logger

	// interrupts delivers user interrupts; nil means SIGINT.
	interrupts <-chan os.Signal
}

// NewConsole creates a new Console reading commands from in and writing the
// prompt to out.
func NewConsole(dispatcher *Dispatcher, in io.Reader, out io.Writer, logger zerolog.Logger) *Console {
	return &Console{
		dispatcher: dispatcher,
		in:         in,
		out:        out,
		logger:     logger.With().Str("component", "console").Logger(),
	}
}

// Run reads and executes commands until exit, end of input, an interrupt at
// the prompt, or ctx is cancelled. An interrupt while a command runs stops
// only that command. The session is always cleaned up before Run returns.
func (c *Console) Run(ctx context.Context) error {
	interrupts := c.interrupts
	if interrupts == nil {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		defer signal.Stop(sigs)
		interrupts = sigs
	}

	queue := NewQueue(ctx, c.dispatcher)
	defer c.dispatcher.Cleanup()
	defer queue.Close()

	done := make(chan struct{})
	defer close(done)

	lines, readErr := c.readLines(done)

	for {
		fmt.Fprint(c.out, prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case <-interrupts:
			fmt.Fprintln(c.out)
			c.logger.Info().Msg("Interrupted at prompt, exiting")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				if err := <-readErr; err != nil {
					return fmt.Errorf("reading commands: %w", err)
				}
				return nil
			}
			line = l
		}

		if exit := c.wait(ctx, queue.Submit(line), queue, interrupts); exit {
			return nil
		}
	}
}

// readLines scans c.in on its own goroutine. The goroutine stops handing out
// lines once done is closed; a read already blocked in c.in only returns
// when that read does.
func (c *Console) readLines(done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}

// wait blocks until the submitted command finishes, forwarding interrupts.
func (c *Console) wait(ctx context.Context, result <-chan Result, queue *Queue, interrupts <-chan os.Signal) bool {
	for {
		select {
		case r := <-result:
			return r.Exit
		case <-interrupts:
			if queue.Interrupt() {
				c.logger.Info().Msg("Interrupting running command")
			}
		case <-ctx.Done():
			queue.Interrupt()
			<-result
			return true
		}
	}
}
