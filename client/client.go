package client

import (
	"fmt"

	"releasewatcher/config"
	"releasewatcher/log"
)

// Clients bundles every external collaborator: the catalog store, the
// release listing endpoint and the messaging transport.
type Clients struct {
	PostgresClient *PostgresClient
	GithubApi      *GithubApi
	TelegramClient *TelegramClient
}

func SetUpClients(conf *config.Config) *Clients {
	postgresClient, err := InitializePostgresClient(conf)
	if err != nil {
		panic(fmt.Errorf("starting postgres client failed: %v", err))
	}

	githubApi := InitializeGithubApi(conf)

	var telegramClient *TelegramClient
	if conf.TelegramToken != "" {
		telegramClient, err = InitializeTelegramClient(conf)
		if err != nil {
			log.LogAppErr("error initializing telegram client, scheduled delivery disabled", err)
			telegramClient = nil
		}
	}

	clients := Clients{
		PostgresClient: postgresClient,
		GithubApi:      githubApi,
		TelegramClient: telegramClient,
	}
	return &clients
}
