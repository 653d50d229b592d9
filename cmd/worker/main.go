package main

import (
	"context"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.LoadBackend()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	clients, err := aws.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	p := NewProcessor(clients, cfg, newConfirmationNotifier(clients, cfg))

	// If RUN_LOCAL=true, we can optionally simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_id":"local-order-1","idempotency_key":"local-key-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		log.Printf("[worker] local run done, failures=%d", len(resp.BatchItemFailures))
		return
	}

	lambda.Start(p.Handle)
}
