package ai

import (
	"regexp"
	"strings"
)

// Guess 是快速判别的结果。
type Guess string

const (
	GuessQuestion  Guess = "question"
	GuessSearch    Guess = "search"
	GuessAmbiguous Guess = "ambiguous"
)

// Intent 是最终的路由意图。
type Intent string

const (
	IntentLLM    Intent = "llm"
	IntentSearch Intent = "search"
)

// 路由来源：规则命中或回退判断。
const (
	RouteRules    = "rules"
	RouteFallback = "fallback"
)

const (
	confidenceRule     = 0.85
	confidenceFallback = 0.65
	routeThreshold     = 0.8
	shortQueryTokens   = 4
	longQueryWords     = 8
)

var (
	urlPattern            = regexp.MustCompile(`(?i)(https?://|www\.[a-z0-9-]+\.[a-z]{2,})`)
	domainPattern         = regexp.MustCompile(`(?i)(?:^|\s)([a-z0-9-]+\.)+[a-z]{2,}(?:/|\s|$)`)
	searchOperatorPattern = regexp.MustCompile(`(?i)\b(site:|filetype:|intitle:|inurl:|OR|-)\b`)
	questionStartPattern  = regexp.MustCompile(`(?i)^(how|why|what|who|when|where|which|can|could|should|do|does|did|is|are|am|was|were|explain|tell me|note|create)\b`)
	explanatoryPattern    = regexp.MustCompile(`\b(explain|describe|tell me|show me|help|tutorial|guide|learn)\b`)
	sentencePattern       = regexp.MustCompile(`[.!?]`)
)

// Classification 是带置信度的意图。
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// BatchItem 是批量判别的单条结果，PLLM 为路由到大模型的概率。
type BatchItem struct {
	Intent Intent  `json:"intent"`
	PLLM   float64 `json:"p_llm"`
}

// Decision 在 Classification 的基础上标注判断来源。
type Decision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Route      string  `json:"route"`
}

// QuickGuess 用一组有序规则判断文本更像提问还是搜索。
func QuickGuess(s string) Guess {
	t := strings.TrimSpace(s)
	if t == "" {
		return GuessAmbiguous
	}
	if strings.Contains(t, "?") {
		return GuessQuestion
	}

	lower := strings.ToLower(t)
	if urlPattern.MatchString(lower) || domainPattern.MatchString(lower) {
		return GuessSearch
	}
	if searchOperatorPattern.MatchString(t) {
		return GuessSearch
	}
	if questionStartPattern.MatchString(t) {
		return GuessQuestion
	}
	if len(strings.Fields(t)) <= shortQueryTokens {
		return GuessSearch
	}
	return GuessAmbiguous
}

// ClassifyIntent 先走快速规则，规则无法判定时按文本特征回退。
func ClassifyIntent(text string) Classification {
	switch QuickGuess(text) {
	case GuessQuestion:
		return Classification{Intent: IntentLLM, Confidence: confidenceRule}
	case GuessSearch:
		return Classification{Intent: IntentSearch, Confidence: confidenceRule}
	}

	explanatory := explanatoryPattern.MatchString(strings.ToLower(text))
	sentence := sentencePattern.MatchString(text)
	if explanatory || sentence || len(strings.Fields(text)) > longQueryWords {
		return Classification{Intent: IntentLLM, Confidence: confidenceFallback}
	}
	return Classification{Intent: IntentSearch, Confidence: confidenceFallback}
}

// ClassifyBatch 对每条文本分别判别。
func ClassifyBatch(texts []string) []BatchItem {
	items := make([]BatchItem, 0, len(texts))
	for _, text := range texts {
		c := ClassifyIntent(text)
		p := c.Confidence
		if c.Intent != IntentLLM {
			p = 1 - c.Confidence
		}
		items = append(items, BatchItem{Intent: c.Intent, PLLM: p})
	}
	return items
}

// DecideIntent 返回意图以及它来自规则还是回退判断。
func DecideIntent(text string) Decision {
	c := ClassifyIntent(text)
	route := RouteFallback
	if c.Confidence >= routeThreshold {
		route = RouteRules
	}
	return Decision{Intent: c.Intent, Confidence: c.Confidence, Route: route}
}
