package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/seliel/aria/internal/pipes"
)

var promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))

// gameStepPoll is how often gaming mode checks whether a step is due.
const gameStepPoll = time.Second

// Idle times before the AI continues on its own: semi-auto waits for a
// quiet console, autochat barely pauses.
const (
	semiAutoIdle = 90 * time.Second
	autoChatIdle = 5 * time.Second
)

// Run starts the background loops and drives the foreground command loop
// until ctx is cancelled, the user exits, or the kill phrase fires.
// A kill-phrase shutdown returns a non-nil error; a clean exit returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.dispatcher.Run(ctx)
	go a.alarms.Run(ctx, 0, a.queueAlarm)
	if a.tags != nil {
		go a.tags.RunDecay(ctx, a.cfg.TagDecayInterval)
	}
	go a.retro.Run(ctx, a.cfg.RetrospectInterval)
	if a.web != nil {
		go func() {
			if err := a.web.Start(ctx); err != nil {
				a.logger.Error("web UI stopped", "error", err)
			}
		}()
	}
	if a.avatar != nil {
		if err := a.avatar.Connect(ctx); err != nil {
			a.logger.Warn("avatar not connected, hints will retry", "error", err)
		}
	}

	lines := readLines(ctx)
	fmt.Println(noticeStyle.Render(fmt.Sprintf("%s is listening. /exit quits, /retry regenerates, /next continues.", a.char.Name())))

	for {
		token, err := a.nextToken(ctx, lines)
		if err != nil {
			return nil // context cancelled: clean shutdown
		}

		process := procChat
		switch {
		case token.process != "":
			process = token.process
		case strings.EqualFold(token.text, "/exit"):
			return nil
		case strings.EqualFold(token.text, "/retry"):
			process = procRetry
		case strings.EqualFold(token.text, "/next"):
			process = procNext
		case token.text == "":
			continue
		default:
			a.setPending(token.text)
		}

		done, err := a.dispatcher.EnqueueMain(process)
		if err != nil {
			if errors.Is(err, pipes.ErrNotRunning) {
				return nil
			}
			a.logger.Warn("main enqueue rejected", "process", process, "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if errors.Is(err, errKilled) {
				a.logger.Error("kill phrase shutdown")
				return errKilled
			}
			if err != nil {
				a.logger.Warn("main process failed", "process", process, "error", err)
			}
		}

		// Wipe inputs typed while the response was generating.
		drain(lines)
	}
}

// inputToken is one foreground command: either literal text or a process
// selected by an input source (gaming steps).
type inputToken struct {
	text    string
	process string
}

// nextToken blocks for the next foreground command from stdin or, in
// gaming mode, the step source.
func (a *App) nextToken(ctx context.Context, lines <-chan string) (inputToken, error) {
	if a.game == nil {
		fmt.Print(promptStyle.Render("you> "))
		var idle <-chan time.Time
		if a.cfg.AutoChat || a.cfg.SemiAutoChat {
			wait := semiAutoIdle
			if a.cfg.AutoChat {
				wait = autoChatIdle
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			idle = timer.C
		}
		select {
		case <-ctx.Done():
			return inputToken{}, ctx.Err()
		case <-idle:
			return inputToken{process: procNext}, nil
		case line, ok := <-lines:
			if !ok {
				return inputToken{}, errors.New("stdin closed")
			}
			return inputToken{text: line}, nil
		}
	}

	ticker := time.NewTicker(gameStepPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return inputToken{}, ctx.Err()
		case line, ok := <-lines:
			if ok && strings.TrimSpace(line) != "" {
				return inputToken{text: line}, nil
			}
		case now := <-ticker.C:
			if step, due := a.game.Step(now); due {
				a.setPending(step)
				return inputToken{process: procGameStep}, nil
			}
		}
	}
}

// readLines feeds stdin lines into a channel so the loop can select on
// them alongside the context.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string, 8)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
	}()
	return lines
}

// drain discards any buffered lines.
func drain(lines <-chan string) {
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
