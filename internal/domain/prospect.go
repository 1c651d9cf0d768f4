package domain

import "strings"

// Prospect is a scraped business record waiting for enrichment.
type Prospect struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Address      string   `json:"address"`
	Phone        string   `json:"phone"`
	Website      string   `json:"website"`
	Rating       float64  `json:"rating"`
	ReviewsCount int      `json:"reviews_count"`
	Reviews      []string `json:"reviews,omitempty"`
	Processed    bool     `json:"processed"`
}

// BusinessFacts is the structured subset of a prospect handed to the prompt
// assembler. It survives inside job payloads so a job can run even when the
// prospect row was scraped on another node.
type BusinessFacts struct {
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Address        string   `json:"address"`
	Website        string   `json:"website"`
	Rating         float64  `json:"rating"`
	ReviewsCount   int      `json:"reviews_count"`
	ReviewExcerpts []string `json:"review_excerpts,omitempty"`
}

func (p *Prospect) Facts() BusinessFacts {
	excerpts := make([]string, 0, 3)
	for _, review := range p.Reviews {
		trimmed := strings.TrimSpace(review)
		if trimmed == "" {
			continue
		}
		excerpts = append(excerpts, trimmed)
		if len(excerpts) >= 3 {
			break
		}
	}
	return BusinessFacts{
		Name:           p.Name,
		Category:       p.Category,
		Address:        p.Address,
		Website:        p.Website,
		Rating:         p.Rating,
		ReviewsCount:   p.ReviewsCount,
		ReviewExcerpts: excerpts,
	}
}

func (f BusinessFacts) HasWebsite() bool {
	return strings.TrimSpace(f.Website) != ""
}
