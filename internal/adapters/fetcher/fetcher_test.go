package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relwatch/internal/domain"
)

func TestMuxUnsupportedKind(t *testing.T) {
	mux := NewMux(Config{})
	_, err := mux.FetchLatest(context.Background(), domain.Source{Kind: "docker", Identifier: "nginx"})
	if !errors.Is(err, domain.ErrUnsupportedSource) {
		t.Fatalf("ожидалась ErrUnsupportedSource, получено: %v", err)
	}
}

func TestGitHubLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/cli/cli/releases/latest" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tkn" {
			t.Fatalf("неожиданный заголовок Authorization: %q", got)
		}
		w.Write([]byte(`{"tag_name":"v2.40.1","published_at":"2024-01-15T10:00:00Z"}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{GitHubAPI: srv.URL, GitHubToken: "tkn"})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceGitHubRelease, Identifier: "cli/cli"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "v2.40.1" {
		t.Fatalf("ожидалась версия v2.40.1, получено %q", info.Version)
	}
	if info.PublishedAt == nil || !info.PublishedAt.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("неожиданная дата публикации: %v", info.PublishedAt)
	}
}

func TestGitHubReleaseFallsBackToTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/norelease/releases/latest":
			w.WriteHeader(http.StatusNotFound)
		case "/repos/owner/norelease/tags":
			w.Write([]byte(`[{"name":"v0.3.0"},{"name":"v0.2.0"}]`))
		default:
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	mux := NewMux(Config{GitHubAPI: srv.URL})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceGitHubRelease, Identifier: "owner/norelease"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "v0.3.0" {
		t.Fatalf("ожидался первый тег v0.3.0, получено %q", info.Version)
	}
	if info.PublishedAt != nil {
		t.Fatalf("у тега не должно быть даты публикации")
	}
}

func TestGitHubTagsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	mux := NewMux(Config{GitHubAPI: srv.URL})
	_, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceGitHubTags, Identifier: "owner/empty"})
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("ожидалась ErrFetchFailed, получено: %v", err)
	}
}

func TestGitHubServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mux := NewMux(Config{GitHubAPI: srv.URL})
	_, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceGitHubTags, Identifier: "owner/down"})
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("ожидалась ErrFetchFailed, получено: %v", err)
	}
	if status, ok := httpStatus(err); !ok || status != http.StatusBadGateway {
		t.Fatalf("в цепочке ошибок нет статуса 502: %v", err)
	}
}

func TestNPMScopedPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Scoped-имя должно прийти с экранированным слэшем.
		if r.URL.EscapedPath() != "/@types%2Fnode" {
			t.Fatalf("неожиданный путь: %s", r.URL.EscapedPath())
		}
		w.Write([]byte(`{"dist-tags":{"latest":"20.11.5"},"time":{"20.11.5":"2024-01-18T09:30:00.123Z"}}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{NPMRegistry: srv.URL})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceNPM, Identifier: "@types/node"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "20.11.5" {
		t.Fatalf("ожидалась версия 20.11.5, получено %q", info.Version)
	}
	if info.PublishedAt == nil {
		t.Fatal("ожидалась дата публикации из поля time")
	}
}

func TestNPMMissingLatestTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dist-tags":{}}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{NPMRegistry: srv.URL})
	_, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceNPM, Identifier: "broken"})
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("ожидалась ErrFetchFailed, получено: %v", err)
	}
}

func TestPyPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pypi/requests/json" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		w.Write([]byte(`{"info":{"version":"2.31.0"},"releases":{"2.31.0":[{"upload_time":"2023-05-22T15:12:43"}]}}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{PyPIAPI: srv.URL})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourcePyPI, Identifier: "requests"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "2.31.0" {
		t.Fatalf("ожидалась версия 2.31.0, получено %q", info.Version)
	}
	want := time.Date(2023, 5, 22, 15, 12, 43, 0, time.UTC)
	if info.PublishedAt == nil || !info.PublishedAt.Equal(want) {
		t.Fatalf("неожиданная дата публикации: %v", info.PublishedAt)
	}
}

func TestCratesFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/crates/serde" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		w.Write([]byte(`{"crate":{"max_version":"1.0.195","updated_at":"2024-01-04T11:22:33.456789Z"}}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{CratesAPI: srv.URL})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceCrates, Identifier: "serde"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "1.0.195" {
		t.Fatalf("ожидалась версия 1.0.195, получено %q", info.Version)
	}
	if info.PublishedAt == nil {
		t.Fatal("ожидалась дата публикации из updated_at")
	}
}

func TestHomebrewFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/formula/jq.json" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		w.Write([]byte(`{"versions":{"stable":"1.7.1"}}`))
	}))
	defer srv.Close()

	mux := NewMux(Config{HomebrewAPI: srv.URL})
	info, err := mux.FetchLatest(context.Background(), domain.Source{Kind: domain.SourceHomebrew, Identifier: "jq"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if info.Version != "1.7.1" {
		t.Fatalf("ожидалась версия 1.7.1, получено %q", info.Version)
	}
	if info.PublishedAt != nil {
		t.Fatal("homebrew не отдаёт дату публикации")
	}
}
