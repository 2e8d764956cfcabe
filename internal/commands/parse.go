package commands

import (
	"sort"
	"strings"
)

// Invocation is a command addressed to the bot
type Invocation struct {
	Name string
	Args []string
}

// Parser recognizes messages addressed to the bot by prefix or mention
type Parser struct {
	prefixes []string
}

// NewParser creates a parser. Prefixes match case-insensitively; longer prefixes win.
func NewParser(prefixes []string) *Parser {
	sorted := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			sorted = append(sorted, strings.ToLower(p))
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	return &Parser{prefixes: sorted}
}

// Parse returns the invocation in content, or false when the message is not addressed to the bot.
// botID may be empty before the gateway session is ready.
func (p *Parser) Parse(content, botID string) (Invocation, bool) {
	content = strings.TrimSpace(content)

	rest, ok := stripMention(content, botID)
	if !ok {
		rest, ok = p.stripPrefix(content)
	}
	if !ok {
		return Invocation{}, false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Invocation{}, false
	}

	return Invocation{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}

func (p *Parser) stripPrefix(content string) (string, bool) {
	for _, prefix := range p.prefixes {
		if len(content) >= len(prefix) && strings.EqualFold(content[:len(prefix)], prefix) {
			return content[len(prefix):], true
		}
	}
	return "", false
}

func stripMention(content, botID string) (string, bool) {
	if botID == "" {
		return "", false
	}
	for _, mention := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.HasPrefix(content, mention) {
			return content[len(mention):], true
		}
	}
	return "", false
}
