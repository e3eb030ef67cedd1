package cli

import "quiz-attempt-engine/internal/domain"

// sampleQuizzes backs the in-memory mode and `migrate --seed`.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Arithmetic warm-up",
			DurationMinutes: 10,
			PassingScore:    60,
			MaxAttempts:     2,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.SingleChoice,
					Prompt: "What is 2 + 2?",
					Points: 1,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:     "q2",
					Type:   domain.MultipleChoice,
					Prompt: "Which numbers are even?",
					Points: 2,
					Options: []domain.Option{
						{ID: "o1", Text: "2"},
						{ID: "o2", Text: "3"},
						{ID: "o3", Text: "8"},
					},
				},
				{
					ID:     "q3",
					Type:   domain.TrueFalse,
					Prompt: "Zero is a natural number in ISO 80000-2.",
					Points: 1,
					Options: []domain.Option{
						{ID: "true", Text: "True"},
						{ID: "false", Text: "False"},
					},
				},
				{
					ID:     "q4",
					Type:   domain.Essay,
					Prompt: "Explain why multiplication distributes over addition.",
					Points: 5,
				},
			},
		},
		"practice-1": {
			ID:         "practice-1",
			Title:      "Untimed practice",
			IsPractice: true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.TrueFalse,
					Prompt: "7 is prime.",
					Points: 1,
					Options: []domain.Option{
						{ID: "true", Text: "True"},
						{ID: "false", Text: "False"},
					},
				},
			},
		},
	}
}
