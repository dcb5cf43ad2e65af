package interpreter

import (
	"fmt"
	"sort"
	"strings"
)

const interpretSystemPrompt = `You are an expert child psychologist and emotion translator. Parents bring you something their child said or did, and you explain what the child is feeling, what the message is really asking for, and how the parent could respond.

Ground every conclusion in the message and profile you are given. Consider the child's age and developmental stage. Suggested responses must be:
- Age-appropriate in language and concept
- Emotionally validating
- Practical for a parent to say in the moment

Offer different approaches across the suggested responses, using the types "validation", "teaching" and "redirection" where they fit.`

const recommendSystemPrompt = `You are an expert child psychologist writing the advice section of a family's weekly emotional report. You receive a summary of the week: completed check-ins, mean mood on a 1-10 scale, the trend versus the previous week, and per-child emotion tallies from translated messages.

Write for the parents. Make the advice:
- Positive and growth-focused
- Practical and specific to the data provided
- Age-appropriate for each child mentioned

Recommendations carry priority 1 (do this first) to 3 (nice to have).`

func buildInterpretPrompt(req InterpretRequest) string {
	var b strings.Builder

	if strings.TrimSpace(req.ChildName) != "" || req.ChildAge > 0 || len(req.Traits) > 0 {
		b.WriteString("Child information:\n")
		if name := strings.TrimSpace(req.ChildName); name != "" {
			fmt.Fprintf(&b, "- Name: %s\n", name)
		}
		if req.ChildAge > 0 {
			fmt.Fprintf(&b, "- Age: %d years old\n", req.ChildAge)
		}
		if len(req.Traits) > 0 {
			fmt.Fprintf(&b, "- Traits: %s\n", strings.Join(req.Traits, ", "))
		}
	}

	if len(req.Context) > 0 {
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nSituation context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Context[k])
		}
	}

	fmt.Fprintf(&b, "\nChild's message or behavior: %q\n", strings.TrimSpace(req.Text))

	if lang := strings.TrimSpace(req.Language); lang != "" {
		fmt.Fprintf(&b, "\nWrite every string value in %s.\n", lang)
	}
	return strings.TrimSpace(b.String())
}

func buildRecommendPrompt(req RecommendRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Report period: %s to %s\n", req.WeekStart, req.WeekEnd)
	fmt.Fprintf(&b, "Check-ins completed: %d\n", req.CheckInsCompleted)
	if req.MeanMood != nil {
		fmt.Fprintf(&b, "Mean mood: %.1f/10\n", *req.MeanMood)
	} else {
		b.WriteString("Mean mood: no data this week\n")
	}
	if t := strings.TrimSpace(req.Trend); t != "" {
		fmt.Fprintf(&b, "Trend versus previous week: %s\n", t)
	}

	for _, child := range req.Children {
		fmt.Fprintf(&b, "\nChild %s (age %d): %d translated messages\n", child.Name, child.Age, child.Translations)
		if len(child.EmotionCounts) > 0 {
			emotionKeys := make([]string, 0, len(child.EmotionCounts))
			for k := range child.EmotionCounts {
				emotionKeys = append(emotionKeys, k)
			}
			sort.Strings(emotionKeys)
			for _, k := range emotionKeys {
				fmt.Fprintf(&b, "- %s: %d times\n", k, child.EmotionCounts[k])
			}
		}
	}

	if lang := strings.TrimSpace(req.Language); lang != "" {
		fmt.Fprintf(&b, "\nWrite every string value in %s.\n", lang)
	}
	return strings.TrimSpace(b.String())
}
