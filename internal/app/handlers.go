package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/seliel/aria/internal/alarm"
	"github.com/seliel/aria/internal/chat"
)

// Pipe process names. The foreground loop enqueues main processes; alarms,
// the web UI and gaming mode enqueue side processes.
const (
	procChat     = "chat"
	procRetry    = "retry"
	procNext     = "next"
	procAlarm    = "alarm"
	procWebChat  = "web_chat"
	procWebNext  = "web_next"
	procGameStep = "game_step"
)

// autoPrompt is sent when the AI should keep talking without user input.
const autoPrompt = "(The user is listening quietly. Continue the conversation naturally.)"

var (
	nameStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	responseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	noticeStyle   = lipgloss.NewStyle().Faint(true)
)

// errKilled aborts the harness when the model output contains the kill phrase.
var errKilled = errors.New("kill phrase shutdown")

func (a *App) registerHandlers() {
	a.dispatcher.Register(procChat, a.handleChat)
	a.dispatcher.Register(procRetry, a.handleRetry)
	a.dispatcher.Register(procNext, a.handleNext)
	a.dispatcher.Register(procAlarm, a.handleAlarm)
	a.dispatcher.Register(procWebChat, a.handleWebChat)
	a.dispatcher.Register(procWebNext, a.handleNext)
	a.dispatcher.Register(procGameStep, a.handleGameStep)
}

// handleChat answers the pending foreground input.
func (a *App) handleChat(ctx context.Context) error {
	a.mu.Lock()
	text := a.pendingText
	a.pendingText = ""
	a.mu.Unlock()
	if text == "" {
		return nil
	}
	return a.respond(ctx, LocalUser, text, "local", true)
}

func (a *App) handleRetry(ctx context.Context) error {
	response, err := a.controller.RegenerateLast(ctx)
	if err != nil {
		if errors.Is(err, chat.ErrKillPhrase) {
			a.printResponse(response)
			return errKilled
		}
		fmt.Println(noticeStyle.Render(err.Error()))
		return nil
	}
	a.printResponse(response)
	a.speak(ctx, response)
	return nil
}

// handleNext lets the AI continue without fresh user input (semi-auto and
// autochat advance).
func (a *App) handleNext(ctx context.Context) error {
	return a.respond(ctx, LocalUser, autoPrompt, "auto", true)
}

// handleAlarm speaks the pending alarm wake-ups.
func (a *App) handleAlarm(ctx context.Context) error {
	a.mu.Lock()
	fired := a.pendingAlarm
	a.pendingAlarm = nil
	a.mu.Unlock()

	for _, al := range fired {
		message := al.Message
		if message == "" {
			message = "it is " + al.Time
		}
		text := fmt.Sprintf("(Alarm %q went off: %s. Wake the user up and tell them.)", al.Name, message)
		if err := a.respond(ctx, LocalUser, text, "alarm", true); err != nil {
			return err
		}
	}
	return nil
}

// handleWebChat answers one queued web UI input. Shadow chats are spoken
// only when configured.
func (a *App) handleWebChat(ctx context.Context) error {
	if a.web == nil {
		return nil
	}
	msg, ok := a.web.NextInput()
	if !ok {
		return nil
	}
	return a.respond(ctx, msg.User, msg.Text, "web", a.cfg.SpeakShadowChat)
}

// handleGameStep feeds the next game prompt and resolves action phrases in
// the reply to game inputs.
func (a *App) handleGameStep(ctx context.Context) error {
	a.mu.Lock()
	text := a.pendingText
	a.pendingText = ""
	a.mu.Unlock()
	if text == "" {
		return nil
	}

	response, err := a.controller.SendMessage(ctx, LocalUser, text, "game", a.sessionID)
	if errors.Is(err, chat.ErrKillPhrase) {
		a.printResponse(response)
		return errKilled
	}
	if err != nil {
		return err
	}
	a.printResponse(response)
	if a.game != nil {
		a.game.MessageInputs(response)
	}
	return nil
}

// respond runs one exchange and routes the reply to console and speech.
func (a *App) respond(ctx context.Context, userID, text, platform string, speak bool) error {
	response, err := a.controller.SendMessage(ctx, userID, text, platform, a.sessionID)
	if errors.Is(err, chat.ErrKillPhrase) {
		a.printResponse(response)
		return errKilled
	}
	if err != nil {
		return err
	}
	a.printResponse(response)
	if speak {
		a.speak(ctx, response)
	}
	return nil
}

func (a *App) speak(ctx context.Context, text string) {
	if a.speaker == nil {
		return
	}
	if err := a.speaker.Speak(ctx, text); err != nil {
		a.logger.Warn("speech failed", "error", err)
	}
}

func (a *App) printResponse(response string) {
	if response == "" {
		return
	}
	name := a.char.Name()
	fmt.Println(nameStyle.Render(name+":") + " " + responseStyle.Render(response))
}

// queueAlarm stashes a fired alarm and enqueues its pipe.
func (a *App) queueAlarm(al alarm.Alarm) {
	a.mu.Lock()
	a.pendingAlarm = append(a.pendingAlarm, al)
	a.mu.Unlock()
	a.dispatcher.Enqueue(procAlarm)
}

// setPending stores the next foreground input for the chat pipe.
func (a *App) setPending(text string) {
	a.mu.Lock()
	a.pendingText = strings.TrimSpace(text)
	a.mu.Unlock()
}
