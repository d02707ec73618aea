package generator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"replyflow/internal/model"
)

// Generator produces reply text for a comment under an account's policy.
// The contract: output is non-empty, at most policy.MaxLength runes, and
// contains none of the banned phrases. When the upstream model keeps
// failing the call returns model.ErrGenerationUnavailable.
type Generator interface {
	GenerateReply(ctx context.Context, comment *model.Comment, policy model.ReplyPolicy) (text string, modelUsed string, err error)
}

// textModel is the minimal surface over the upstream generative API.
// Kept as an interface so tests can swap in a scripted model.
type textModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// PolicyGenerator wraps a text model with the policy enforcement rules:
// banned-phrase post-filter with one regeneration, templated safe
// fallback, and hard length capping.
type PolicyGenerator struct {
	model textModel
}

func NewPolicyGenerator(m textModel) *PolicyGenerator {
	return &PolicyGenerator{model: m}
}

var _ Generator = (*PolicyGenerator)(nil)

func (g *PolicyGenerator) GenerateReply(ctx context.Context, comment *model.Comment, policy model.ReplyPolicy) (string, string, error) {
	prompt := buildPrompt(comment, policy)

	raw, err := g.model.Generate(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", model.ErrGenerationUnavailable, err)
	}

	text := sanitize(raw)
	if violatesPolicy(text, policy) {
		log.Printf("[Generator] Policy violation for comment %d, regenerating", comment.ID)
		raw, err = g.model.Generate(ctx, prompt+bannedReminder(policy))
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", model.ErrGenerationUnavailable, err)
		}
		text = sanitize(raw)
	}
	if violatesPolicy(text, policy) {
		// Second strike: fall back to the templated safe reply.
		log.Printf("[Generator] Falling back to safe reply for comment %d", comment.ID)
		text = SafeReply(comment, policy)
	}

	return truncate(text, policy.MaxLength), g.model.Name(), nil
}

// violatesPolicy reports an empty reply or a banned-phrase hit.
func violatesPolicy(text string, policy model.ReplyPolicy) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	lower := strings.ToLower(text)
	for _, phrase := range policy.BannedPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// SafeReply is the templated fallback used when generation cannot
// produce a policy-compliant reply. Deliberately generic and warm. The
// fallback is held to the same banned-phrase rule as model output, so a
// policy that happens to ban a template substring picks the next
// candidate instead of posting it.
func SafeReply(comment *model.Comment, policy model.ReplyPolicy) string {
	for _, candidate := range safeCandidates(comment.Kind) {
		text := personalize(candidate, comment.Author)
		if !violatesPolicy(text, policy) {
			return truncate(text, policy.MaxLength)
		}
	}
	// Every template collides with the policy. Scrub the banned phrases
	// out of the first candidate rather than post one of them.
	text := scrub(personalize(safeCandidates(comment.Kind)[0], comment.Author), policy)
	return truncate(text, policy.MaxLength)
}

func safeCandidates(kind model.CommentKind) []string {
	var out []string
	switch kind {
	case model.KindComplaint:
		out = append(out,
			"We're sorry to hear that. Please send us a direct message so we can make it right.",
			"That's not the experience we want you to have. Reach out to us directly and we'll sort it out.")
	case model.KindQuestion:
		out = append(out,
			"Great question! We'll follow up with more details shortly.",
			"Good one to raise. We'll get back to you with specifics.")
	}
	return append(out,
		"Thank you for taking the time to comment, it means a lot to us!",
		"We appreciate you stopping by!",
		"Glad to have you here in the comments.")
}

func personalize(text, author string) string {
	name := strings.TrimSpace(author)
	if name == "" {
		return text
	}
	return name + ", " + strings.ToLower(text[:1]) + text[1:]
}

// scrub removes banned phrases outright, repeating until the text is
// stable so a removal cannot splice a new occurrence together.
func scrub(text string, policy model.ReplyPolicy) string {
	for {
		before := text
		for _, phrase := range policy.BannedPhrases {
			if phrase == "" {
				continue
			}
			lowerPhrase := strings.ToLower(phrase)
			for {
				idx := strings.Index(strings.ToLower(text), lowerPhrase)
				if idx < 0 {
					break
				}
				text = text[:idx] + text[idx+len(phrase):]
			}
		}
		if text == before {
			return strings.TrimSpace(text)
		}
	}
}

func buildPrompt(comment *model.Comment, policy model.ReplyPolicy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You manage social media engagement for a brand account on %s.\n", comment.Platform)
	fmt.Fprintf(&b, "Write a reply to the comment below.\n\n")
	fmt.Fprintf(&b, "Tone: %s\n", policy.Tone)
	fmt.Fprintf(&b, "Language: %s\n", policy.Language)
	fmt.Fprintf(&b, "Maximum length: %d characters\n", policy.MaxLength)
	if len(policy.BannedPhrases) > 0 {
		fmt.Fprintf(&b, "Never use these phrases: %s\n", strings.Join(policy.BannedPhrases, ", "))
	}
	fmt.Fprintf(&b, "\nGuidelines by comment kind:\n")
	fmt.Fprintf(&b, "- lead: acknowledge interest warmly, provide value, soft call to action, no hard selling\n")
	fmt.Fprintf(&b, "- praise: genuine gratitude plus an engaging follow-up question\n")
	fmt.Fprintf(&b, "- question: a helpful, specific answer that invites further discussion\n")
	fmt.Fprintf(&b, "- complaint: empathy first, then concrete next steps\n")
	fmt.Fprintf(&b, "- general: natural, conversational engagement\n\n")
	fmt.Fprintf(&b, "Comment kind: %s\n", comment.Kind)
	fmt.Fprintf(&b, "Commenter: %s\n", comment.Author)
	fmt.Fprintf(&b, "Comment: %q\n\n", comment.Body)
	fmt.Fprintf(&b, "Output only the reply text, no quotes, no preamble.")
	return b.String()
}

func bannedReminder(policy model.ReplyPolicy) string {
	return fmt.Sprintf("\n\nIMPORTANT: your previous attempt used a forbidden phrase. Do not use any of: %s.",
		strings.Join(policy.BannedPhrases, ", "))
}

// sanitize strips the quoting and fencing models like to wrap output in.
func sanitize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Trim(text, "\"")
	return strings.TrimSpace(text)
}

// truncate caps text at maxLen runes, cutting at a word boundary when one
// is close enough.
func truncate(text string, maxLen int) string {
	if maxLen <= 0 || len([]rune(text)) <= maxLen {
		return text
	}
	runes := []rune(text)[:maxLen]
	cut := string(runes)
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
