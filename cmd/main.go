package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"philelect-bot/handler"
	"philelect-bot/internal/integrations/openai"
	"philelect-bot/internal/integrations/paramstore"
	"philelect-bot/internal/integrations/paystack"
	"philelect-bot/internal/integrations/whatsapp"
	"philelect-bot/internal/repository"
	"philelect-bot/internal/usecase"
)

func main() {
	ctx := context.Background()
	log := slog.Default()

	// ---- Configuration (read only here) ----
	catalogTable := mustEnv("CATALOG_TABLE")
	stateTable := mustEnv("STATE_TABLE")
	ordersTable := mustEnv("ORDERS_TABLE")
	paramPrefix := cleanPrefix(mustEnv("PARAM_PREFIX"))
	operatorPhone := os.Getenv("OPERATOR_PHONE")
	searchLimit := envInt("SEARCH_LIMIT", 3)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)

	catalog, err := repository.NewCatalog(dynamoClient, catalogTable)
	if err != nil {
		slog.Error("failed to create catalog", "err", err)
		os.Exit(1)
	}
	stateStore, err := repository.NewStateStore(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state store", "err", err)
		os.Exit(1)
	}
	orderLedger, err := repository.NewOrderLedger(dynamoClient, ordersTable)
	if err != nil {
		slog.Error("failed to create order ledger", "err", err)
		os.Exit(1)
	}

	classifier, err := openai.NewClassifier(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create classifier", "err", err)
		os.Exit(1)
	}
	sender, err := whatsapp.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create whatsapp client", "err", err)
		os.Exit(1)
	}
	payments, err := paystack.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create paystack client", "err", err)
		os.Exit(1)
	}

	// ---- Core services ----
	dispatcher, err := usecase.NewDispatcher(classifier, catalog, stateStore, orderLedger, payments, sender, searchLimit, log)
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}
	reconciler, err := usecase.NewReconciler(orderLedger, sender, ssmClient, paramPrefix+"/paystack-secret-key", operatorPhone, log)
	if err != nil {
		slog.Error("failed to create reconciler", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(dispatcher, reconciler, ssmClient, paramPrefix+"/whatsapp-verify-token", log)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

// cleanPrefix strips a trailing slash so concatenated parameter names never
// carry a double slash. The integration clients apply the same normalization.
func cleanPrefix(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
