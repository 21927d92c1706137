package scoring

import (
	"strings"
	"unicode"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// ReviewScorer maps a review to a suspicion score in [0,1].
type ReviewScorer interface {
	ScoreReview(review *domain.Review) float64
}

// ReviewScorerFunc adapts a plain function to ReviewScorer.
type ReviewScorerFunc func(review *domain.Review) float64

// ScoreReview calls f(review).
func (f ReviewScorerFunc) ScoreReview(review *domain.Review) float64 {
	return f(review)
}

// DefaultSuspiciousPhrases are the phrases PhraseReviewScorer looks for.
var DefaultSuspiciousPhrases = []string{
	"best ever", "amazing", "perfect", "life changing",
	"highly recommend", "must buy", "love it",
}

// PhraseReviewScorer is the default fake-review heuristic.
type PhraseReviewScorer struct {
	Phrases      []string
	PhraseWeight float64 // per phrase present

	// Any word longer than CapsMinLen runes written entirely in capitals.
	CapsWeight float64
	CapsMinLen int

	// Five-star rating with fewer than ShortTextWords words.
	ShortFiveStarWeight float64
	ShortTextWords      int
}

// NewPhraseReviewScorer returns the scorer with reference weights.
func NewPhraseReviewScorer() *PhraseReviewScorer {
	return &PhraseReviewScorer{
		Phrases:             DefaultSuspiciousPhrases,
		PhraseWeight:        0.2,
		CapsWeight:          0.3,
		CapsMinLen:          3,
		ShortFiveStarWeight: 0.2,
		ShortTextWords:      10,
	}
}

// ScoreReview returns the clamped sum of triggered signals.
func (s *PhraseReviewScorer) ScoreReview(review *domain.Review) float64 {
	if review == nil {
		return 0
	}

	var score float64
	lower := strings.ToLower(review.Text)
	for _, phrase := range s.Phrases {
		if strings.Contains(lower, phrase) {
			score += s.PhraseWeight
		}
	}

	words := strings.Fields(review.Text)
	for _, w := range words {
		if len([]rune(w)) > s.CapsMinLen && isShouted(w) {
			score += s.CapsWeight
			break
		}
	}

	if review.Rating == 5 && len(words) < s.ShortTextWords {
		score += s.ShortFiveStarWeight
	}

	return Clamp(score)
}

// isShouted reports whether w has at least one letter and no lowercase letters.
func isShouted(w string) bool {
	letters := 0
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters > 0
}
