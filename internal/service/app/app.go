package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"stego_chat/internal/model"
	"stego_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		api      *API
		session  *Session
		reactor  *Reactor
		userID   string
		download string

		mu      sync.Mutex
		to      Target
		carrier []byte
	}
)

// NewApp builds the terminal client. Opened files are written to download.
func NewApp(api *API, userID, download string) *App {
	return &App{
		app:      tview.NewApplication(),
		api:      api,
		session:  NewSession(api, userID),
		reactor:  NewReactor(),
		userID:   userID,
		download: download,
	}
}

// Run registers the user if needed, then blocks on the UI until it exits
// or ctx is cancelled.
func (c *App) Run(ctx context.Context, to string) error {
	if _, err := c.api.Register(c.userID, c.userID); err != nil && !errors.Is(err, ErrUserExists) {
		return fmt.Errorf("register %s: %w", c.userID, err)
	}
	if to != "" {
		c.to = Target{UserID: to}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.session.OnState = func(connected bool, err error) {
		if connected {
			c.println("[gray]connected[-]")
		} else if err != nil {
			c.println(fmt.Sprintf("[red]disconnected: %s[-]", tview.Escape(err.Error())))
		}
	}

	c.renderUI()
	go func() {
		if err := c.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session ended", zap.Error(err))
		}
	}()
	go c.listen()
	go func() {
		<-ctx.Done()
		c.app.Stop()
	}()

	return c.app.Run()
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true)
	c.setTitle()

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")
		go c.handleInput(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

func (c *App) setTitle() {
	c.mu.Lock()
	to := c.to
	c.mu.Unlock()

	title := fmt.Sprintf(" %s ", c.userID)
	if to != (Target{}) {
		title = fmt.Sprintf(" %s → %s ", c.userID, to)
	}
	c.chatbox.SetTitle(title)
}

func (c *App) listen() {
	for evt := range c.session.Events() {
		reaction := c.reactor.React(evt)
		for _, line := range reaction.Lines {
			c.println(line)
		}
		if reaction.Save != nil {
			c.save(reaction.Save)
		}
		for i := range reaction.Commands {
			if err := c.session.Send(&reaction.Commands[i]); err != nil {
				log.Debug("follow-up command failed", zap.String("command", string(reaction.Commands[i].Kind)), zap.Error(err))
			}
		}
	}
}

func (c *App) handleInput(text string) {
	c.mu.Lock()
	to := c.to
	c.mu.Unlock()

	action, err := ParseInput(text, to)
	if err != nil {
		c.println(fmt.Sprintf("[red]%s[-]", tview.Escape(err.Error())))
		return
	}

	switch {
	case action.Switch != nil:
		c.switchTarget(*action.Switch)

	case action.CarrierPath != "":
		data, err := os.ReadFile(action.CarrierPath)
		if err != nil {
			c.println(fmt.Sprintf("[red]read carrier: %s[-]", tview.Escape(err.Error())))
			return
		}
		c.mu.Lock()
		c.carrier = data
		c.mu.Unlock()
		c.println(fmt.Sprintf("[gray]carrier set to %s[-]", tview.Escape(action.CarrierPath)))

	case action.FilePath != "":
		data, err := os.ReadFile(action.FilePath)
		if err != nil {
			c.println(fmt.Sprintf("[red]read file: %s[-]", tview.Escape(err.Error())))
			return
		}
		name := filepath.Base(action.FilePath)
		c.send(&model.Command{
			Kind:        model.CommandSendFile,
			To:          to.UserID,
			FileName:    name,
			ContentType: contentType(name, data),
			Data:        data,
		}, fmt.Sprintf("[yellow]You:[-] sent %s", tview.Escape(name)))

	default:
		cmd := action.Command
		echo := ""
		if cmd.Kind == model.CommandSend || cmd.Kind == model.CommandSendGroup {
			c.mu.Lock()
			cmd.Carrier = c.carrier
			c.mu.Unlock()
			echo = fmt.Sprintf("[yellow]You:[-] %s", tview.Escape(cmd.Text))
		}
		c.send(cmd, echo)
	}
}

func (c *App) switchTarget(t Target) {
	if t.UserID != "" {
		if _, err := c.api.GetSharedKeysOfUser(t.UserID); err != nil {
			c.println(fmt.Sprintf("[red]cannot chat with %s: %s[-]", tview.Escape(t.UserID), tview.Escape(err.Error())))
			return
		}
		if p, err := c.api.Presence(t.UserID); err == nil && !p.Online && p.LastSeen != nil {
			c.println(fmt.Sprintf("[gray]%s last seen %s[-]", tview.Escape(t.UserID), p.LastSeen.Local().Format("Jan 2 15:04")))
		}
	}

	c.mu.Lock()
	c.to = t
	c.mu.Unlock()
	c.app.QueueUpdateDraw(c.setTitle)
}

func (c *App) send(cmd *model.Command, echo string) {
	if err := c.session.Send(cmd); err != nil {
		c.println(fmt.Sprintf("[red]send failed: %s[-]", tview.Escape(err.Error())))
		return
	}
	if echo != "" {
		c.println(echo)
	}
}

func (c *App) save(m *model.OpenedEvent) {
	if err := os.MkdirAll(c.download, 0o700); err != nil {
		log.Error("create download dir failed", zap.Error(err))
		return
	}
	path := filepath.Join(c.download, filepath.Base(m.FileName))
	if err := os.WriteFile(path, m.Plaintext, 0o600); err != nil {
		log.Error("save file failed", zap.String("path", path), zap.Error(err))
		return
	}
	c.println(fmt.Sprintf("[gray]saved to %s[-]", tview.Escape(path)))
}

func (c *App) println(line string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintln(c.chatbox, line)
		c.chatbox.ScrollToEnd()
	})
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
