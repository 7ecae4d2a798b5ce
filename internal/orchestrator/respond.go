package orchestrator

import (
	"strings"

	"github.com/nextlevelbuilder/agentworker/internal/sessionindex"
	"github.com/nextlevelbuilder/agentworker/pkg/event"
)

// botMentionTokens are the explicit-mention markers named in §4.7.7.
var botMentionTokens = []string{"@cyrus", "@bot"}

// shouldRespondToComment implements §4.7.7 and its invariants in
// §4.7.10: respond iff the comment is not bot-authored by any of the
// three bot-provenance signals, AND either it replies to a bot-
// authored parent or its body explicitly mentions the bot.
func shouldRespondToComment(c event.CommentCreated, idx *sessionindex.Index) bool {
	if idx.IsRecentBotComment(c.CommentID) {
		return false
	}
	if idx.IsBotUser(c.AuthorID) {
		return false
	}
	if c.BotActor {
		return false
	}

	repliesToBotParent := c.ParentID != "" && idx.IsBotParentComment(c.ParentID)
	mentionsBot := containsBotMention(c.Body)

	return repliesToBotParent || mentionsBot
}

func containsBotMention(body string) bool {
	lower := strings.ToLower(body)
	for _, tok := range botMentionTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
