package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"relwatch/internal/domain"
)

const defaultHomebrewAPI = "https://formulae.brew.sh"

// Homebrew получает стабильную версию формулы из API formulae.brew.sh.
type Homebrew struct {
	client    *http.Client
	base      string
	userAgent string
}

var _ domain.ReleaseFetcher = (*Homebrew)(nil)

func NewHomebrew(client *http.Client, base, userAgent string) *Homebrew {
	return &Homebrew{client: client, base: trimBase(base, defaultHomebrewAPI), userAgent: userAgent}
}

type brewDoc struct {
	Versions struct {
		Stable string `json:"stable"`
	} `json:"versions"`
}

// FetchLatest реализует domain.ReleaseFetcher. API формул не отдаёт дату
// публикации, поэтому PublishedAt всегда пустой.
func (h *Homebrew) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	formula := source.Identifier
	var doc brewDoc
	reqURL := fmt.Sprintf("%s/api/formula/%s.json", h.base, formula)
	if err := getJSON(ctx, h.client, "homebrew", formula, reqURL, "", h.userAgent, &doc); err != nil {
		return domain.ReleaseInfo{}, err
	}
	if doc.Versions.Stable == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("homebrew: у формулы %s нет стабильной версии: %w", formula, domain.ErrFetchFailed)
	}
	return domain.ReleaseInfo{Version: doc.Versions.Stable}, nil
}
