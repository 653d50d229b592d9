package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/config"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/handlers"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/processor"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	backend, err := config.LoadBackend()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if backend.StripeSecretKey == "" {
		log.Fatalf("STRIPE_SECRET is required")
	}

	clients, err := aws.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     backend.RedisAddr,
		Password: backend.RedisPassword,
		DB:       backend.RedisDB,
	})
	defer rdb.Close()

	r := handlers.NewRouter(handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		CloudWatchClient: clients.CloudWatch,
		Redis:            rdb,
		Gateway:          processor.NewGateway(processor.NewStripeAPI(backend.StripeSecretKey)),
		Backend:          backend,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":" + envOr("PORT", "8080")
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
