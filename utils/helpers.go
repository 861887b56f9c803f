package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nlopes/slack"

	"releasewatcher/config"
	"releasewatcher/log"
	"releasewatcher/models"
)

var repoURLRe = regexp.MustCompile(`https://github\.com/([^/\s,]+)/([^/\s,]+)`)

const (
	// Wire form of release timestamps on the listing endpoint.
	ReleaseDateWireLayout = "2006-01-02T15:04:05Z"
	// Display form used everywhere a release date is shown to users.
	ReleaseDateDisplayLayout = "2006.01.02 15:04:05"
)

// ParseRepoURLs extracts (owner, repo_name) pairs from free text containing
// GitHub repository URLs.
func ParseRepoURLs(text string) [][2]string {
	matches := repoURLRe.FindAllStringSubmatch(text, -1)
	pairs := make([][2]string, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, [2]string{m[1], m[2]})
	}
	return pairs
}

func RepoURI(owner, repoName string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repoName)
}

// RepoAPIURI builds the versioned listing endpoint for the latest release of
// a repository.
func RepoAPIURI(apiBase, owner, repoName string) string {
	return fmt.Sprintf("%s/repos/%s/%s/releases/latest",
		strings.TrimSuffix(apiBase, "/"), owner, repoName)
}

func ParseReleaseDate(raw string) (time.Time, error) {
	return time.Parse(ReleaseDateWireLayout, raw)
}

func FormatReleaseDate(t time.Time) string {
	return t.Format(ReleaseDateDisplayLayout)
}

// RenderReleaseList renders one numbered line per repository, the way the
// delivery message and on-demand release checks present a backlog.
func RenderReleaseList(repos []models.SubscribedRepo) string {
	if len(repos) == 0 {
		return "No new releases."
	}
	lines := make([]string, 0, len(repos)+1)
	lines = append(lines, "New releases:")
	for i, repo := range repos {
		lines = append(lines, fmt.Sprintf("%d. %s (by %s) release %s from %s %s",
			i+1, repo.RepoName, repo.Owner, repo.Release,
			FormatReleaseDate(repo.ReleaseDate), repo.URI))
	}
	return strings.Join(lines, "\n")
}

const (
	green  = "#00FF00"
	red    = "#FF0000"
	orange = "#FFA500"
)

func PostSlackUpdate(conf *config.Config, text string) {
	attachment := slack.Attachment{
		Color: orange,
		Text:  text,
		Ts:    json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	postSlackMessage(conf, attachment)
}

func PostSlackError(conf *config.Config, text string) {
	attachment := slack.Attachment{
		Color: red,
		Text:  text,
		Ts:    json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	postSlackMessage(conf, attachment)
}

func PostSlackSuccess(conf *config.Config, text string) {
	attachment := slack.Attachment{
		Color: green,
		Text:  text,
		Ts:    json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	postSlackMessage(conf, attachment)
}

func postSlackMessage(conf *config.Config, attachment slack.Attachment) {
	if conf.SlackWebhookURL == "" {
		return
	}
	msg := slack.WebhookMessage{
		Attachments: []slack.Attachment{attachment},
	}

	err := slack.PostWebhook(conf.SlackWebhookURL, &msg)
	if err != nil {
		log.LogAppErr(fmt.Sprintf("Cannot post to slack webhook_url %s", conf.SlackWebhookURL), err)
	}
}
