package app

import (
	"fmt"
	"strings"
	"sync"

	"stego_chat/internal/model"

	"github.com/rivo/tview"
)

type (
	// Reaction is what the UI does in response to one event.
	Reaction struct {
		Lines    []string
		Commands []model.Command
		// Save is set when an opened file should be written to disk.
		Save *model.OpenedEvent
	}

	// Reactor keeps the small amount of state needed between an incoming
	// message and its opened plaintext.
	Reactor struct {
		mu      sync.Mutex
		oneTime map[string]struct{}
	}
)

func NewReactor() *Reactor {
	return &Reactor{oneTime: make(map[string]struct{})}
}

func (r *Reactor) React(evt model.Event) Reaction {
	var out Reaction

	switch data := evt.Data.(type) {
	case model.MessageEvent:
		out.Commands = append(out.Commands, r.openMessage(data))

	case model.PendingMessagesEvent:
		if n := len(data.Messages); n > 0 {
			out.Lines = append(out.Lines, fmt.Sprintf("[gray]%d message(s) arrived while you were away[-]", n))
		}
		for _, m := range data.Messages {
			out.Commands = append(out.Commands, r.openMessage(m))
		}

	case model.FileEvent:
		cmd := model.Command{Kind: model.CommandOpenFile, EnvelopeID: data.EnvelopeID}
		if data.EnvelopeID == "" {
			cmd.File, cmd.To = data.File, data.SenderID
		}
		out.Commands = append(out.Commands, cmd)

	case model.OpenedEvent:
		out.Lines = append(out.Lines, openedLine(data))
		if data.FileName != "" {
			out.Save = &data
		}
		if r.consumeOneTime(data.EnvelopeID) {
			out.Commands = append(out.Commands, model.Command{Kind: model.CommandAck, EnvelopeID: data.EnvelopeID})
		}

	case model.PresenceEvent:
		state := "online"
		if evt.Kind == model.EventUserOffline {
			state = "offline"
		}
		out.Lines = append(out.Lines, fmt.Sprintf("[gray]%s is %s[-]", tview.Escape(data.UserID), state))

	case model.OnlineContactsEvent:
		if len(data.UserIDs) == 0 {
			out.Lines = append(out.Lines, "[gray]no contacts online[-]")
		} else {
			out.Lines = append(out.Lines, fmt.Sprintf("[gray]online: %s[-]", tview.Escape(strings.Join(data.UserIDs, ", "))))
		}

	case model.FriendRequestEvent:
		from := tview.Escape(data.UserID)
		switch evt.Kind {
		case model.EventReceiveFriendRequest:
			out.Lines = append(out.Lines, fmt.Sprintf("[blue]%s wants to be friends, /accept %s or /reject %s[-]", from, from, from))
		case model.EventConfirmFriendRequest:
			out.Lines = append(out.Lines, fmt.Sprintf("[blue]%s accepted your friend request[-]", from))
		case model.EventRejectFriendRequest:
			out.Lines = append(out.Lines, fmt.Sprintf("[blue]%s rejected your friend request[-]", from))
		}

	case model.BlockEvent:
		verb := "blocked"
		if evt.Kind == model.EventUserUnblocked {
			verb = "unblocked"
		}
		out.Lines = append(out.Lines, fmt.Sprintf("[gray]%s %s you[-]", tview.Escape(data.UserID), verb))

	case model.ErrorEvent:
		out.Lines = append(out.Lines, fmt.Sprintf("[red]%s failed: %s[-]", data.Command, tview.Escape(data.Message)))
	}
	return out
}

// openMessage opens one-time messages by envelope so they can be
// acknowledged afterwards. Ordinary messages are opened from the image.
func (r *Reactor) openMessage(m model.MessageEvent) model.Command {
	if m.OneTime && m.EnvelopeID != "" {
		r.mu.Lock()
		r.oneTime[m.EnvelopeID] = struct{}{}
		r.mu.Unlock()
		return model.Command{Kind: model.CommandOpen, EnvelopeID: m.EnvelopeID}
	}
	return model.Command{Kind: model.CommandOpen, Image: m.Image}
}

func (r *Reactor) consumeOneTime(envelopeID string) bool {
	if envelopeID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.oneTime[envelopeID]; !ok {
		return false
	}
	delete(r.oneTime, envelopeID)
	return true
}

func openedLine(m model.OpenedEvent) string {
	from := tview.Escape(m.SenderID)
	if m.FileName != "" {
		return fmt.Sprintf("[green]%s:[-] sent %s (%d bytes)", from, tview.Escape(m.FileName), len(m.Plaintext))
	}
	return fmt.Sprintf("[green]%s:[-] %s", from, tview.Escape(string(m.Plaintext)))
}
