package services

import (
	"encoding/json"
	"strings"
)

// resultEnvelope is a partial view of the backend result payload. Only the
// summary fields and the per-patent fields the assistant grounds on are
// decoded; everything else is ignored and the stored payload stays untouched.
type resultEnvelope struct {
	TotalPatents    int            `json:"total_patents"`
	FirstExpiration string         `json:"first_expiration"`
	Patents         []resultPatent `json:"patents"`
}

type resultPatent struct {
	Title             string `json:"title"`
	PublicationNumber string `json:"publication_number"`
	Country           string `json:"country"`
	Status            string `json:"status"`
	ExpirationDate    string `json:"expiration_date"`
	Abstract          string `json:"abstract"`
}

// peekResult decodes the summary fields out of a raw result payload. A payload
// that is not JSON, or not the expected shape, yields a zero envelope rather
// than an error: summaries are denormalized conveniences, never a reason to
// fail a search that already succeeded.
func peekResult(payload []byte) resultEnvelope {
	var env resultEnvelope
	if len(payload) == 0 {
		return env
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return resultEnvelope{}
	}
	return env
}

// snippet renders one patent as a compact text line for retrieval grounding.
func (p resultPatent) snippet() string {
	parts := make([]string, 0, 6)
	if p.Title != "" {
		parts = append(parts, p.Title)
	}
	if p.PublicationNumber != "" {
		parts = append(parts, p.PublicationNumber)
	}
	if p.Country != "" {
		parts = append(parts, p.Country)
	}
	if p.Status != "" {
		parts = append(parts, "status: "+p.Status)
	}
	if p.ExpirationDate != "" {
		parts = append(parts, "expires: "+p.ExpirationDate)
	}
	if p.Abstract != "" {
		parts = append(parts, p.Abstract)
	}
	return strings.Join(parts, " | ")
}

// snippets renders every patent in the envelope, skipping entries that carry
// no text at all.
func (e resultEnvelope) snippets() []string {
	out := make([]string, 0, len(e.Patents))
	for _, p := range e.Patents {
		if s := p.snippet(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
