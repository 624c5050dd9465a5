package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"insight/api/internal/tags"
)

// FollowUpCount is the fixed number of follow-up questions returned to a
// contributor after each submission.
const FollowUpCount = 3

const maxSuggestedTags = 5

// TaggedExample is one previously-tagged note shown to the provider so tag
// suggestions track the project's established vocabulary.
type TaggedExample struct {
	Content string
	Tags    []string
}

// BuildTagSuggestionRequest asks for tags for new content, anchored on how
// the project has tagged similar notes before.
func BuildTagSuggestionRequest(content string, examples []TaggedExample) (Request, error) {
	if strings.TrimSpace(content) == "" {
		return Request{}, errors.New("content is empty")
	}
	var b strings.Builder
	if len(examples) > 0 {
		b.WriteString("Here is how this project tags its notes:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- note: %q tags: %s\n", trimForPrompt(ex.Content, 200), strings.Join(ex.Tags, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Suggest up to %d short tags for this new note, matching the project's tagging style above when examples are given:\n%s\n", maxSuggestedTags, content)
	b.WriteString(`Respond with a JSON object: {"tags": [string]}. Tags must be lowercase, one or two words each. Return {"tags": []} if nothing fits.`)
	return Request{
		System:   "You tag notes consistently with a project's existing vocabulary.",
		User:     b.String(),
		WantJSON: true,
	}, nil
}

// ParseTagSuggestions returns the normalized, deduplicated tag list. An empty
// list is a valid outcome, not an error.
func ParseTagSuggestions(raw string) ([]string, error) {
	cleaned := strings.TrimSpace(stripFences(raw))
	var resp struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("malformed tag response: %w", err)
	}
	merged := tags.Merge(nil, resp.Tags)
	if len(merged) > maxSuggestedTags {
		merged = merged[:maxSuggestedTags]
	}
	return merged, nil
}

// BuildFollowUpRequest asks for open-ended questions that would draw out more
// detail from the contributor who just submitted the note.
func BuildFollowUpRequest(projectGoal, noteContent string) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Project goal: %s\n\nA contributor just submitted this note:\n%s\n\n", projectGoal, noteContent)
	fmt.Fprintf(&b, "Write exactly %d open-ended follow-up questions that invite the contributor to share more detail, context, or feeling about what they wrote. Each question should stand alone.\n", FollowUpCount)
	b.WriteString(`Respond with a JSON object: {"questions": [string]}.`)
	return Request{
		System:   "You help collect richer contributions by asking warm, open-ended follow-up questions.",
		User:     b.String(),
		WantJSON: true,
	}
}

// ParseFollowUps returns exactly FollowUpCount questions or an error.
func ParseFollowUps(raw string) ([]string, error) {
	cleaned := strings.TrimSpace(stripFences(raw))
	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("malformed follow-up response: %w", err)
	}
	questions := make([]string, 0, FollowUpCount)
	for _, q := range resp.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		questions = append(questions, q)
		if len(questions) == FollowUpCount {
			break
		}
	}
	if len(questions) != FollowUpCount {
		return nil, fmt.Errorf("expected %d follow-up questions, got %d", FollowUpCount, len(questions))
	}
	return questions, nil
}

// BuildTopicNotesRequest asks the provider to draft notes about a topic, for
// the owner-triggered note-generation action.
func BuildTopicNotesRequest(projectName, topic string, count int) (Request, error) {
	if strings.TrimSpace(topic) == "" {
		return Request{}, errors.New("topic is empty")
	}
	if count < 1 {
		count = 5
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\nTopic: %s\n\n", projectName, topic)
	fmt.Fprintf(&b, "Write %d short factual notes about this topic, each one a self-contained statement of two or three sentences.\n", count)
	b.WriteString(`Respond with a JSON object: {"notes": [string]}.`)
	return Request{
		System:   "You research topics and write concise, self-contained notes.",
		User:     b.String(),
		WantJSON: true,
	}, nil
}

// ParseTopicNotes returns the drafted note texts.
func ParseTopicNotes(raw string) ([]string, error) {
	cleaned := strings.TrimSpace(stripFences(raw))
	var resp struct {
		Notes []string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("malformed notes response: %w", err)
	}
	notes := make([]string, 0, len(resp.Notes))
	for _, n := range resp.Notes {
		n = strings.TrimSpace(n)
		if n != "" {
			notes = append(notes, n)
		}
	}
	if len(notes) == 0 {
		return nil, errors.New("notes response is empty")
	}
	return notes, nil
}

func trimForPrompt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
