package main

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zephyrtronium/warden/command"
)

// parseCommand extracts the command text from a message addressed to the bot,
// either by the text prefix or by a leading mention of the bot's user ID.
func parseCommand(prefix, me, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if me != "" {
		for _, m := range [...]string{"<@" + me + ">", "<@!" + me + ">"} {
			if rest, ok := strings.CutPrefix(text, m); ok {
				return strings.TrimSpace(rest), true
			}
		}
	}
	if prefix == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(rest)
	if r == utf8.RuneError || unicode.IsSpace(r) {
		// A bare prefix, or a prefix followed by space, is just punctuation.
		return "", false
	}
	return strings.TrimSpace(rest), true
}

type devCommand struct {
	parse *regexp.Regexp
	fn    command.Func
	name  string
}

// cog is the module name under which admin commands are logged.
const cog = "Dev"

func findCommand(cmds []devCommand, text string) (*devCommand, map[string]string) {
	for i := range cmds {
		c := &cmds[i]
		u := c.parse.FindStringSubmatch(text)
		switch len(u) {
		case 0:
			continue
		case 1:
			return c, nil
		default:
			m := make(map[string]string, len(u)-1)
			s := c.parse.SubexpNames()
			for k, v := range u[1:] {
				m[s[k+1]] = v
			}
			return c, m
		}
	}
	return nil, nil
}

// devCommands is the admin command table. Order matters: the first match wins.
var devCommands = []devCommand{
	{
		parse: regexp.MustCompile(`(?is)^(?:bl|blocklist)\s+add\s+(?<target>\S+)(?:\s+(?<reason>.*))?$`),
		fn:    command.BlockAdd,
		name:  "bl add",
	},
	{
		parse: regexp.MustCompile(`(?i)^(?:bl|blocklist)\s+(?:remove|rm)\s+(?<target>\S+)(?:\s+(?<kind>\S+))?\s*$`),
		fn:    command.BlockRemove,
		name:  "bl remove",
	},
	{
		parse: regexp.MustCompile(`(?i)^(?:bl|blocklist)\s+(?:list|ls)\s*$`),
		fn:    command.BlockList,
		name:  "bl list",
	},
	{
		parse: regexp.MustCompile(`(?is)^(?:bl|blocklist)\s+debug\s+(?<code>.+)$`),
		fn:    command.BlockDebug,
		name:  "bl debug",
	},
	{
		parse: regexp.MustCompile(`(?i)^(?:bl|blocklist)(?:\s+help)?\s*$`),
		fn:    command.BlockHelp,
		name:  "bl",
	},
	{
		parse: regexp.MustCompile(`(?is)^sql\s+(?<query>.+)$`),
		fn:    command.SQL,
		name:  "sql",
	},
	{
		parse: regexp.MustCompile(`(?i)^(?:cmds|commands)\s*$`),
		fn:    command.Cmds,
		name:  "cmds",
	},
	{
		parse: regexp.MustCompile(`(?i)^history\s+for\s+(?:(?<days>\d+)\s+)?(?<cmd>\S.*?)\s*$`),
		fn:    command.HistoryFor,
		name:  "history for",
	},
	{
		parse: regexp.MustCompile(`(?i)^history\s+(?:guild|server)\s+(?<id>\S+)\s*$`),
		fn:    command.HistoryGuild,
		name:  "history guild",
	},
	{
		parse: regexp.MustCompile(`(?i)^history\s+(?:user|member)\s+(?<id>\S+)\s*$`),
		fn:    command.HistoryUser,
		name:  "history user",
	},
	{
		parse: regexp.MustCompile(`(?i)^history\s+cog(?:\s+(?<days>\d+))?(?:\s+(?<cog>\S.*?))?\s*$`),
		fn:    command.HistoryCog,
		name:  "history cog",
	},
	{
		parse: regexp.MustCompile(`(?i)^history\s*$`),
		fn:    command.History,
		name:  "history",
	},
	{
		parse: regexp.MustCompile(`(?is)^botupdate\s+on(?:\s+(?<msg>.+))?$`),
		fn:    command.MaintenanceOn,
		name:  "botupdate on",
	},
	{
		parse: regexp.MustCompile(`(?i)^botupdate\s+off\s*$`),
		fn:    command.MaintenanceOff,
		name:  "botupdate off",
	},
	{
		parse: regexp.MustCompile(`(?i)^botupdate(?:\s+help)?\s*$`),
		fn:    command.MaintenanceHelp,
		name:  "botupdate",
	},
	{
		parse: regexp.MustCompile(`(?i)^sync(?<guilds>(?:\s+\d+)*)(?:\s+(?<spec>\S+))?\s*$`),
		fn:    command.Sync,
		name:  "sync",
	},
	{
		parse: regexp.MustCompile(`(?i)^update(?:\s+(?<mode>\S+))?\s*$`),
		fn:    command.Update,
		name:  "update",
	},
}
