package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zot/p2p-chat/internal/chat"
)

// ExitCommand ends an interactive session
const ExitCommand = "exit"

// Chat runs an interactive session: every line read from in is published,
// received messages are written to out as "<peer>: <payload>". The session
// ends on "exit", end of input, or ctx cancellation.
func Chat(ctx context.Context, a *chat.Actor, port uint16, in Console, out io.Writer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if err := a.Start(port); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(a.Loop)
	g.Go(func() error {
		printReceived(a, out)
		return nil
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := in.Prompt("")
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Warn("could not read input", zap.Error(err))
				}
				return
			}
			select {
			case lines <- line:
			case <-a.Done():
				return
			}
		}
	}()

	func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				line = strings.TrimRight(line, "\r")
				if strings.TrimSpace(line) == ExitCommand {
					return
				}
				if err := a.Publish(ctx, []byte(line)); err != nil {
					log.Error("could not publish", zap.Error(err))
				}
			}
		}
	}()

	a.Cancel()
	return g.Wait()
}

// printReceived drains the queue to out until the actor stops
func printReceived(a *chat.Actor, out io.Writer) {
	for {
		for {
			msg, ok := a.Received().Pop()
			if !ok {
				break
			}
			fmt.Fprintf(out, "%s: %s\n", msg.From, msg.Payload)
		}
		select {
		case <-a.Received().Notify():
		case <-a.Done():
			return
		}
	}
}
