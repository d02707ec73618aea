package generator

import (
	"strings"

	"replyflow/internal/model"
)

// Keyword sets for the cheap first-pass classification. Checked in
// priority order: spam wins over everything so it can be auto-skipped,
// leads and complaints before the softer kinds.
var kindKeywords = []struct {
	kind     model.CommentKind
	keywords []string
}{
	{model.KindSpam, []string{"click here", "follow me", "check my", "dm me", "link in bio"}},
	{model.KindLead, []string{"interested", "how much", "price", "buy", "want", "need", "sign up"}},
	{model.KindComplaint, []string{"problem", "issue", "wrong", "bad", "terrible", "hate", "disappointed"}},
	{model.KindQuestion, []string{"?", "how", "what", "when", "where", "why", "can you"}},
	{model.KindPraise, []string{"amazing", "great", "awesome", "love", "fantastic", "thank you"}},
}

// Classify assigns a comment kind from keyword matching. It never calls
// the model; nuance beyond keywords is left to the generation prompt.
func Classify(body string) model.CommentKind {
	lower := strings.ToLower(body)
	for _, entry := range kindKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.kind
			}
		}
	}
	return model.KindGeneral
}
