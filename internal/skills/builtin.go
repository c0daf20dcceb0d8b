package skills

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// RegisterBuiltins installs the skills that ship with the marketplace.
func RegisterBuiltins(r *Registry) {
	r.Register(&cleanText{})
	r.Register(&keywordExtract{})
	r.Register(&piiRedactor{})
	r.Register(&sentimentScore{})
	r.Register(&urlExtract{})
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace into single spaces.
type cleanText struct{}

func (cleanText) Meta() Meta {
	return Meta{SkillID: "clean_text", Version: "1.0.0", Category: "Data", RiskLevel: "Low", Deterministic: true}
}

func (cleanText) Validate(input map[string]any) error {
	_, err := requireText(input)
	return err
}

func (cleanText) Execute(_ context.Context, input map[string]any) (map[string]any, int64, error) {
	text, _ := input["text"].(string)
	cleaned := strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
	return map[string]any{"cleaned": cleaned}, textCredits(text), nil
}

var (
	wordRE    = regexp.MustCompile(`[a-zA-Z0-9']{2,}`)
	stopwords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true,
		"is": true, "are": true, "to": true, "of": true, "in": true,
		"on": true, "for": true, "with": true, "this": true, "that": true,
		"it": true, "as": true, "at": true, "by": true,
	}
)

// keywordExtract returns the most frequent non-stopword terms.
type keywordExtract struct{}

func (keywordExtract) Meta() Meta {
	return Meta{SkillID: "keyword_extract", Version: "1.0.0", Category: "Reasoning", RiskLevel: "Low", Deterministic: true}
}

func (keywordExtract) Validate(input map[string]any) error {
	if _, err := requireText(input); err != nil {
		return err
	}
	return nil
}

func (keywordExtract) Execute(_ context.Context, input map[string]any) (map[string]any, int64, error) {
	text, _ := input["text"].(string)
	topK := 10
	switch v := input["top_k"].(type) {
	case float64:
		topK = int(v)
	case int:
		topK = v
	}
	if topK < 3 {
		topK = 3
	}
	if topK > 30 {
		topK = 30
	}

	counts := map[string]int{}
	var order []string
	for _, w := range wordRE.FindAllString(strings.ToLower(text), -1) {
		if stopwords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	// stable: frequency desc, then first appearance
	rank := map[string]int{}
	for i, w := range order {
		rank[w] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})
	if len(order) > topK {
		order = order[:topK]
	}
	keywords := make([]any, len(order))
	for i, w := range order {
		keywords[i] = w
	}
	return map[string]any{"keywords": keywords}, textCredits(text), nil
}

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\b(\+?\d[\d\s\-]{7,}\d)\b`)
)

// piiRedactor masks email addresses and phone numbers.
type piiRedactor struct{}

func (piiRedactor) Meta() Meta {
	return Meta{SkillID: "pii_redactor", Version: "1.0.0", Category: "Governance", RiskLevel: "Medium", Deterministic: true}
}

func (piiRedactor) Validate(input map[string]any) error {
	_, err := requireText(input)
	return err
}

func (piiRedactor) Execute(_ context.Context, input map[string]any) (map[string]any, int64, error) {
	text, _ := input["text"].(string)
	redacted := emailRE.ReplaceAllString(text, "[REDACTED_EMAIL]")
	redacted = phoneRE.ReplaceAllString(redacted, "[REDACTED_PHONE]")
	return map[string]any{"redacted": redacted}, textCredits(text), nil
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "awesome": true, "nice": true,
		"love": true, "happy": true, "excellent": true, "amazing": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "worst": true, "hate": true, "sad": true,
		"terrible": true, "awful": true, "angry": true, "poor": true,
	}
)

// sentimentScore is a lexicon counter, not a model. Good enough for demo
// workflows and deterministic for tests.
type sentimentScore struct{}

func (sentimentScore) Meta() Meta {
	return Meta{SkillID: "sentiment_score", Version: "1.0.0", Category: "Reasoning", RiskLevel: "Low", Deterministic: true}
}

func (sentimentScore) Validate(input map[string]any) error {
	_, err := requireText(input)
	return err
}

func (sentimentScore) Execute(_ context.Context, input map[string]any) (map[string]any, int64, error) {
	text, _ := input["text"].(string)
	var pos, neg int
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(strings.Trim(w, ".,!?"))
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		total = 1
	}
	score := float64(pos-neg) / float64(total)
	label := "neutral"
	if score > 0.2 {
		label = "positive"
	} else if score < -0.2 {
		label = "negative"
	}
	return map[string]any{"score": score, "label": label}, textCredits(text), nil
}

var urlRE = regexp.MustCompile(`(?i)(https?://[^\s'"<>]+)`)

// urlExtract lists every http(s) URL found in the text.
type urlExtract struct{}

func (urlExtract) Meta() Meta {
	return Meta{SkillID: "url_extract", Version: "1.0.0", Category: "Data", RiskLevel: "Low", Deterministic: true}
}

func (urlExtract) Validate(input map[string]any) error {
	_, err := requireText(input)
	return err
}

func (urlExtract) Execute(_ context.Context, input map[string]any) (map[string]any, int64, error) {
	text, _ := input["text"].(string)
	found := urlRE.FindAllString(text, -1)
	urls := make([]any, len(found))
	for i, u := range found {
		urls[i] = u
	}
	return map[string]any{"urls": urls}, textCredits(text), nil
}
