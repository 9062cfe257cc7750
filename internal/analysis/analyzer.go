package analysis

import (
	"context"
	"encoding/json"
)

// TextRewriter is implemented by Rewriter; kept as an interface so the
// analyzer can run without an API key and tests can stub it.
type TextRewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Result bundles everything the pipeline stores back on the post.
type Result struct {
	Rewritten string
	Relevance float64
	Sentiment string
	// Details is a JSON blob with the matched keywords.
	Details string
}

// Analyzer combines keyword scoring with optional rewriting.
type Analyzer struct {
	scorer   *KeywordScorer
	rewriter TextRewriter
}

// NewAnalyzer creates the analyzer. rewriter may be nil, in which case
// the original text is kept.
func NewAnalyzer(scorer *KeywordScorer, rewriter TextRewriter) *Analyzer {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	return &Analyzer{scorer: scorer, rewriter: rewriter}
}

// CanRewrite reports whether a rewriter is configured.
func (a *Analyzer) CanRewrite() bool {
	return a.rewriter != nil
}

// Analyze scores the text and, when a rewriter is available, produces
// the restyled variant.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*Result, error) {
	score := a.scorer.Score(text)
	details, _ := json.Marshal(map[string]interface{}{"matched": score.Matched})

	result := &Result{
		Rewritten: text,
		Relevance: score.Relevance,
		Sentiment: score.Sentiment,
		Details:   string(details),
	}

	if a.rewriter != nil {
		rewritten, err := a.rewriter.Rewrite(ctx, text)
		if err != nil {
			return nil, err
		}
		result.Rewritten = rewritten
	}
	return result, nil
}
