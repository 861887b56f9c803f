package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"releasewatcher/config"
	"releasewatcher/log"
	"releasewatcher/utils"
)

// ErrNoRelease is surfaced for any non-2xx listing response, typically a
// repository without a published release. It is never retried.
var ErrNoRelease = errors.New("repository has no published release")

type GithubApi struct {
	httpClient *retryablehttp.Client
	token      string
}

type latestReleaseResp struct {
	TagName   string `json:"tag_name"`
	CreatedAt string `json:"created_at"`
}

// InitializeGithubApi builds the release prober. Connection errors and 5xx
// responses are retried with backoff up to ten attempts total; application
// errors are not retried.
func InitializeGithubApi(conf *config.Config) *GithubApi {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 9
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &GithubApi{
		httpClient: rc,
		token:      conf.GithubToken,
	}
}

// LatestRelease fetches the latest release tag and creation timestamp from
// the listing endpoint. Safe for concurrent use; holds no mutable state.
func (api *GithubApi) LatestRelease(ctx context.Context, apiURI string) (string, time.Time, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURI, nil)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "issue building request for %s", apiURI)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if api.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", api.token))
	}

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "retries exhausted fetching latest release from %s", apiURI)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, errors.Wrapf(ErrNoRelease, "status %d from %s", resp.StatusCode, apiURI)
	}

	var release latestReleaseResp
	if err = json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", time.Time{}, errors.Wrapf(err, "issue decoding latest release from %s", apiURI)
	}

	releaseDate, err := utils.ParseReleaseDate(release.CreatedAt)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "issue parsing release date %q from %s", release.CreatedAt, apiURI)
	}

	log.LogAppInfo(fmt.Sprintf("github.releases.latest url=%s tag=%s", apiURI, release.TagName))
	return release.TagName, releaseDate, nil
}
