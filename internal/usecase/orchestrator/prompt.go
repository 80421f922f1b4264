package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/answer"
	"github.com/kailas-cloud/flowbot/internal/domain/confidence"
	"github.com/kailas-cloud/flowbot/internal/domain/prediction"
	"github.com/kailas-cloud/flowbot/internal/usecase/retrieval"
)

const systemPrompt = `You are flowbot, an assistant for analysts reviewing machine-learning predictions.
Answer using only the numbered excerpts and the model confidence block.
Cite excerpts as [n]. If the excerpts do not answer the question, say so.`

type promptInput struct {
	question     string
	hits         []retrieval.Hit
	pred         *prediction.Prediction
	report       *confidence.Report
	reasons      []answer.FallbackReason
	excerptChars int
}

func buildPrompt(in promptInput) domain.Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\n", in.question)

	b.WriteString("Excerpts:\n")
	if len(in.hits) == 0 {
		b.WriteString("(no relevant documents found)\n")
	}
	for i, h := range in.hits {
		fmt.Fprintf(&b, "[%d] (id=%s, similarity=%.3f) %s\n",
			i+1, h.Document.ID(), h.Similarity, truncate(h.Document.Text(), in.excerptChars))
	}

	if in.report != nil && in.pred != nil {
		r := in.report
		b.WriteString("\nModel confidence:\n")
		fmt.Fprintf(&b, "- model: %s (%s)\n", in.pred.ModelID(), in.pred.Modality())
		if in.pred.PredictedLabel() != "" {
			fmt.Fprintf(&b, "- predicted label: %s\n", in.pred.PredictedLabel())
		}
		fmt.Fprintf(&b, "- calibrated confidence: %.3f\n", r.CalibratedConfidence())
		fmt.Fprintf(&b, "- low confidence: %t\n", r.IsLowConfidence())
		if r.OODChecked() {
			fmt.Fprintf(&b, "- out of distribution: %t (distance %.3f)\n", r.IsOutOfDistribution(), r.OODDistance())
		}
	}

	if len(in.reasons) > 0 {
		names := make([]string, len(in.reasons))
		for i, r := range in.reasons {
			names[i] = strings.ReplaceAll(string(r), "_", " ")
		}
		fmt.Fprintf(&b, "\nCaution: %s. Say plainly that the answer is uncertain and avoid definitive claims.\n",
			strings.Join(names, ", "))
	}

	return domain.Prompt{System: systemPrompt, User: b.String()}
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
