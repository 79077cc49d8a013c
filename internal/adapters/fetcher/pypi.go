package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"relwatch/internal/domain"
)

const defaultPyPIAPI = "https://pypi.org"

// PyPI получает текущую версию пакета через JSON API pypi.org.
type PyPI struct {
	client    *http.Client
	base      string
	userAgent string
}

var _ domain.ReleaseFetcher = (*PyPI)(nil)

func NewPyPI(client *http.Client, base, userAgent string) *PyPI {
	return &PyPI{client: client, base: trimBase(base, defaultPyPIAPI), userAgent: userAgent}
}

type pypiDoc struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
	Releases map[string][]struct {
		UploadTime string `json:"upload_time"`
	} `json:"releases"`
}

// FetchLatest реализует domain.ReleaseFetcher.
func (p *PyPI) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	pkg := source.Identifier
	var doc pypiDoc
	reqURL := fmt.Sprintf("%s/pypi/%s/json", p.base, pkg)
	if err := getJSON(ctx, p.client, "pypi", pkg, reqURL, "", p.userAgent, &doc); err != nil {
		return domain.ReleaseInfo{}, err
	}
	version := doc.Info.Version
	if version == "" {
		return domain.ReleaseInfo{}, fmt.Errorf("pypi: у пакета %s нет версии: %w", pkg, domain.ErrFetchFailed)
	}
	info := domain.ReleaseInfo{Version: version}
	if files := doc.Releases[version]; len(files) > 0 && files[0].UploadTime != "" {
		// PyPI отдаёт наивное локальное время вида 2006-01-02T15:04:05.
		if published, err := time.ParseInLocation("2006-01-02T15:04:05", files[0].UploadTime, time.UTC); err == nil {
			info.PublishedAt = &published
		}
	}
	return info, nil
}
