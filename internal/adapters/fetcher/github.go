package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"relwatch/internal/domain"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHub получает последний релиз или последний тег репозитория.
// Один экземпляр обслуживает оба типа источника: github-release и github-tags.
type GitHub struct {
	client    *http.Client
	base      string
	token     string
	userAgent string
}

var _ domain.ReleaseFetcher = (*GitHub)(nil)

func NewGitHub(client *http.Client, base, token, userAgent string) *GitHub {
	return &GitHub{
		client:    client,
		base:      trimBase(base, defaultGitHubAPI),
		token:     token,
		userAgent: userAgent,
	}
}

type githubRelease struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
}

type githubTag struct {
	Name string `json:"name"`
}

// FetchLatest реализует domain.ReleaseFetcher. Для github-release репозиторий
// без релизов (404) прозрачно деградирует до списка тегов.
func (g *GitHub) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	repo := source.Identifier
	switch source.Kind {
	case domain.SourceGitHubRelease:
		info, err := g.latestRelease(ctx, repo)
		if err != nil {
			if status, ok := httpStatus(err); ok && status == http.StatusNotFound {
				return g.latestTag(ctx, repo)
			}
			return domain.ReleaseInfo{}, err
		}
		return info, nil
	case domain.SourceGitHubTags:
		return g.latestTag(ctx, repo)
	default:
		return domain.ReleaseInfo{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, source.Kind)
	}
}

func (g *GitHub) latestRelease(ctx context.Context, repo string) (domain.ReleaseInfo, error) {
	var rel githubRelease
	url := fmt.Sprintf("%s/repos/%s/releases/latest", g.base, repo)
	if err := getJSON(ctx, g.client, "github", repo, url, g.token, g.userAgent, &rel); err != nil {
		return domain.ReleaseInfo{}, err
	}
	if rel.TagName == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("github: пустой релиз %s: %w", repo, domain.ErrFetchFailed)
	}
	info := domain.ReleaseInfo{Version: rel.TagName}
	if !rel.PublishedAt.IsZero() {
		published := rel.PublishedAt
		info.PublishedAt = &published
	}
	return info, nil
}

func (g *GitHub) latestTag(ctx context.Context, repo string) (domain.ReleaseInfo, error) {
	var tags []githubTag
	url := fmt.Sprintf("%s/repos/%s/tags?per_page=1", g.base, repo)
	if err := getJSON(ctx, g.client, "github", repo, url, g.token, g.userAgent, &tags); err != nil {
		return domain.ReleaseInfo{}, err
	}
	if len(tags) == 0 || tags[0].Name == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("github: у репозитория %s нет тегов: %w", repo, domain.ErrFetchFailed)
	}
	// Список тегов не несёт даты публикации.
	return domain.ReleaseInfo{Version: tags[0].Name}, nil
}
