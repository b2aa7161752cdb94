package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"AgentMarket-Chain/sdk/go/agentmarket"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "marketd base url")
	task := flag.String("task", "full-pipeline", "orchestration task")
	input := flag.String("input", "Go is an open source programming language that makes it simple to build secure, scalable systems.", "input text")
	lang := flag.String("lang", "", "target language for the translator")
	budget := flag.String("budget", "", "budget ceiling in USDT")
	async := flag.Bool("async", false, "submit as an asynchronous job")
	flag.Parse()

	client, err := agentmarket.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}
	client.SetToken(os.Getenv("AGENT_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dir, err := client.ListAgents(ctx, "", false)
	if err != nil {
		log.Fatalf("list agents: %v", err)
	}
	fmt.Printf("agents (%s):\n", dir.Origin)
	for _, agent := range dir.Agents {
		fmt.Printf("  #%d %-16s %s USDT\n", agent.ID, agent.Name, agent.PriceUSDT)
	}

	req := agentmarket.RunRequest{Task: *task, Input: *input, TargetLanguage: *lang, BudgetUSDT: *budget}
	var res *agentmarket.RunResult
	if *async {
		job, err := client.SubmitJob(ctx, req)
		if err != nil {
			log.Fatalf("submit job: %v", err)
		}
		fmt.Printf("job %s submitted\n", job.ID)
		done, err := client.WaitForJob(ctx, job.ID, time.Second)
		if err != nil {
			log.Fatalf("wait for job: %v", err)
		}
		if done.Status != "succeeded" {
			log.Fatalf("job %s failed: %s (%s)", done.ID, done.LastError, done.ErrorCode)
		}
		res = done.Result
	} else {
		res, err = client.Orchestrate(ctx, req)
		if err != nil {
			log.Fatalf("orchestrate: %v", err)
		}
	}

	fmt.Printf("run %s demo=%v\n", res.RunID, res.DemoMode)
	for _, tx := range res.Transactions {
		fmt.Printf("  paid %s %s %s -> %s\n", tx.Agent, tx.Amount, tx.Currency, tx.Explorer)
	}
	for _, out := range res.Outputs {
		fmt.Printf("[%s]\n%s\n\n", out.Agent, out.Text)
	}
}
