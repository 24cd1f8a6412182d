package dispatch

import "strings"

// Command is an explicit slash command.
type Command int

const (
	CommandNone Command = iota
	CommandHelp
	CommandTasks
	CommandReport
	CommandSettings
	CommandStatus
	CommandIntroduce
)

// IntroduceToken starts the registration message.
const IntroduceToken = "/自我介紹"

// String returns the command token as the user types it.
func (c Command) String() string {
	switch c {
	case CommandHelp:
		return "/help"
	case CommandTasks:
		return "/tasks"
	case CommandReport:
		return "/report"
	case CommandSettings:
		return "/settings"
	case CommandStatus:
		return "/status"
	case CommandIntroduce:
		return IntroduceToken
	default:
		return ""
	}
}

// ParseCommand resolves text to a command. Commands must make up the whole
// message, except the introduction which carries its form on following
// lines. A Telegram style "@botname" suffix is ignored.
func ParseCommand(text string) Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return CommandNone
	}

	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if strings.HasPrefix(first, IntroduceToken) {
		return CommandIntroduce
	}
	if strings.ContainsAny(text, " \n\t") {
		return CommandNone
	}

	token, _, _ := strings.Cut(text, "@")
	switch strings.ToLower(token) {
	case "/help", "/幫助":
		return CommandHelp
	case "/tasks":
		return CommandTasks
	case "/report":
		return CommandReport
	case "/settings":
		return CommandSettings
	case "/status":
		return CommandStatus
	}
	return CommandNone
}
