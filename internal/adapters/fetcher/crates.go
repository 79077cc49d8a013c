package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"relwatch/internal/domain"
)

const defaultCratesAPI = "https://crates.io"

// Crates получает максимальную опубликованную версию крейта с crates.io.
type Crates struct {
	client    *http.Client
	base      string
	userAgent string
}

var _ domain.ReleaseFetcher = (*Crates)(nil)

func NewCrates(client *http.Client, base, userAgent string) *Crates {
	return &Crates{client: client, base: trimBase(base, defaultCratesAPI), userAgent: userAgent}
}

type cratesDoc struct {
	Crate struct {
		MaxVersion string `json:"max_version"`
		UpdatedAt  string `json:"updated_at"`
	} `json:"crate"`
}

// FetchLatest реализует domain.ReleaseFetcher.
func (c *Crates) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	crate := source.Identifier
	var doc cratesDoc
	reqURL := fmt.Sprintf("%s/api/v1/crates/%s", c.base, crate)
	if err := getJSON(ctx, c.client, "crates", crate, reqURL, "", c.userAgent, &doc); err != nil {
		return domain.ReleaseInfo{}, err
	}
	if doc.Crate.MaxVersion == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("crates: у крейта %s нет версии: %w", crate, domain.ErrFetchFailed)
	}
	info := domain.ReleaseInfo{Version: doc.Crate.MaxVersion}
	if doc.Crate.UpdatedAt != "" {
		if published, err := time.Parse(time.RFC3339, doc.Crate.UpdatedAt); err == nil {
			info.PublishedAt = &published
		}
	}
	return info, nil
}
