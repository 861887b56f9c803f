package main

import (
	"context"
	"fmt"
	"time"

	"releasewatcher/app/subscription"
	"releasewatcher/client"
	"releasewatcher/config"
	"releasewatcher/engine"
	"releasewatcher/log"
	"releasewatcher/scheduler"
	"releasewatcher/server"
	"releasewatcher/worker"
)

func main() {
	c := config.InitConfig(config.GetEnv())

	log.SetUpLogger()

	clients := client.SetUpClients(c)

	eng := engine.New(clients.PostgresClient, clients.GithubApi, c.GithubAPIURL)

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		panic(fmt.Sprintf("Invalid timezone %q: %v\n", c.Timezone, err))
	}

	var sender scheduler.Sender
	if clients.TelegramClient != nil {
		sender = clients.TelegramClient
	} else {
		log.LogAppWarn("No telegram transport configured, scheduled deliveries will be skipped", nil)
	}
	sched := scheduler.New(clients.PostgresClient, clients.PostgresClient, sender, loc)
	armed, err := sched.LoadAndArm(context.Background())
	if err != nil {
		panic(fmt.Sprintf("Failed to re-arm delivery schedules: %v\n", err))
	}
	log.LogAppInfow("delivery schedules armed", "count", armed)

	go worker.InitializeSweepWorker(c, eng).Run()

	svc := subscription.SubscriptionService{
		Engine:    eng,
		Scheduler: sched,
	}
	if err := server.InitRoutes(svc).Run(c.HTTPAddr); err != nil {
		panic(fmt.Sprintf("Failed to start server: %v\n", err))
	}
}
