package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"relwatch/internal/domain"
)

const defaultNPMRegistry = "https://registry.npmjs.org"

// NPM получает версию dist-tag latest из реестра npm.
type NPM struct {
	client    *http.Client
	base      string
	userAgent string
}

var _ domain.ReleaseFetcher = (*NPM)(nil)

func NewNPM(client *http.Client, base, userAgent string) *NPM {
	return &NPM{client: client, base: trimBase(base, defaultNPMRegistry), userAgent: userAgent}
}

type npmDoc struct {
	DistTags map[string]string `json:"dist-tags"`
	Time     map[string]string `json:"time"`
}

// FetchLatest реализует domain.ReleaseFetcher.
func (n *NPM) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	pkg := source.Identifier
	var doc npmDoc
	// PathEscape нужен для scoped-пакетов вида @scope/name.
	reqURL := fmt.Sprintf("%s/%s", n.base, url.PathEscape(pkg))
	if err := getJSON(ctx, n.client, "npm", pkg, reqURL, "", n.userAgent, &doc); err != nil {
		return domain.ReleaseInfo{}, err
	}
	latest := doc.DistTags["latest"]
	if latest == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("npm: у пакета %s нет dist-tag latest: %w", pkg, domain.ErrFetchFailed)
	}
	info := domain.ReleaseInfo{Version: latest}
	if raw, ok := doc.Time[latest]; ok {
		if published, err := time.Parse(time.RFC3339, raw); err == nil {
			info.PublishedAt = &published
		}
	}
	return info, nil
}
