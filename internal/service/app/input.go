package app

import (
	"errors"
	"fmt"
	"strings"

	"stego_chat/internal/model"
)

var ErrNoTarget = errors.New("pick a recipient first: /to <user> or /group <chat>")

type (
	// Target is who plain input lines are sent to.
	Target struct {
		UserID string
		ChatID string
	}

	// Action is one parsed input line. Exactly one of Command, Switch,
	// FilePath and CarrierPath is set.
	Action struct {
		Command     *model.Command
		Switch      *Target
		FilePath    string
		CarrierPath string
	}
)

func (t Target) String() string {
	if t.ChatID != "" {
		return "#" + t.ChatID
	}
	return t.UserID
}

const usage = "/to <user>, /group <chat>, /once <text>, /file <path>, /carrier <path>, " +
	"/friend <user>, /accept <user>, /reject <user>, /block <user>, /unblock <user>"

// ParseInput turns a line typed into the input box into an Action.
func ParseInput(line string, to Target) (*Action, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("empty input")
	}

	if !strings.HasPrefix(line, "/") {
		cmd, err := sendCommand(to, line, false)
		if err != nil {
			return nil, err
		}
		return &Action{Command: cmd}, nil
	}

	verb, arg, _ := strings.Cut(line[1:], " ")
	verb = strings.ToLower(verb)
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, fmt.Errorf("/%s needs an argument (%s)", verb, usage)
	}

	switch verb {
	case "to":
		return &Action{Switch: &Target{UserID: arg}}, nil
	case "group":
		return &Action{Switch: &Target{ChatID: arg}}, nil
	case "once":
		cmd, err := sendCommand(to, arg, true)
		if err != nil {
			return nil, err
		}
		return &Action{Command: cmd}, nil
	case "file":
		if to.UserID == "" {
			return nil, ErrNoTarget
		}
		return &Action{FilePath: arg}, nil
	case "carrier":
		return &Action{CarrierPath: arg}, nil
	case "friend":
		return &Action{Command: &model.Command{Kind: model.CommandFriendRequest, To: arg}}, nil
	case "accept":
		return &Action{Command: &model.Command{Kind: model.CommandFriendConfirm, To: arg}}, nil
	case "reject":
		return &Action{Command: &model.Command{Kind: model.CommandFriendReject, To: arg}}, nil
	case "block":
		return &Action{Command: &model.Command{Kind: model.CommandBlock, To: arg}}, nil
	case "unblock":
		return &Action{Command: &model.Command{Kind: model.CommandUnblock, To: arg}}, nil
	}
	return nil, fmt.Errorf("unknown command /%s (%s)", verb, usage)
}

func sendCommand(to Target, text string, oneTime bool) (*model.Command, error) {
	switch {
	case to.ChatID != "":
		return &model.Command{Kind: model.CommandSendGroup, ChatID: to.ChatID, Text: text, OneTime: oneTime}, nil
	case to.UserID != "":
		return &model.Command{Kind: model.CommandSend, To: to.UserID, Text: text, OneTime: oneTime}, nil
	}
	return nil, ErrNoTarget
}
