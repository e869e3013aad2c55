package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	orchestratorx "github.com/caretaker-labs/caretaker/agent/agents/orchestrator"
	plannerx "github.com/caretaker-labs/caretaker/agent/agents/planner"
	memoryx "github.com/caretaker-labs/caretaker/agent/memory"
	policyx "github.com/caretaker-labs/caretaker/agent/policy"
	runtimex "github.com/caretaker-labs/caretaker/agent/runtime"
	statex "github.com/caretaker-labs/caretaker/agent/state"
	toolx "github.com/caretaker-labs/caretaker/agent/tool"
	configx "github.com/caretaker-labs/caretaker/pkg/config"
	gatewayx "github.com/caretaker-labs/caretaker/pkg/gateway"
	inferencex "github.com/caretaker-labs/caretaker/pkg/inference"
	_ "github.com/caretaker-labs/caretaker/pkg/logger/autoload"
	retrievalx "github.com/caretaker-labs/caretaker/pkg/retrieval"
)

type AppConfig struct {
	OrderLookupTarget   string `envconfig:"ORDER_LOOKUP_TARGET" split_words:"true" default:"order-lookup"`
	OrderLookupEndpoint string `envconfig:"ORDER_LOOKUP_ENDPOINT" split_words:"true" required:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	catalog := policyx.MustLoad()

	sessionStore, err := statex.NewRedisRESTStore(*configx.MustNew[statex.RedisRESTConfig]("SESSION"))
	if err != nil {
		log.Fatal().Err(err).Msg("session store init failed")
	}

	memoryStore, err := memoryx.NewPostgresStore(*configx.MustNew[memoryx.PostgresConfig]("MEMORY"))
	if err != nil {
		log.Fatal().Err(err).Msg("memory store init failed")
	}
	defer memoryStore.Close()

	memoryManager, err := memoryx.NewManager(memoryStore, *configx.MustNew[memoryx.Config]("MEMORY"))
	if err != nil {
		log.Fatal().Err(err).Msg("memory manager init failed")
	}

	gatewayClient := gatewayx.MustNew(*configx.MustNew[gatewayx.Config]("GATEWAY"))
	if err := gatewayClient.RegisterTarget(appCfg.OrderLookupTarget, appCfg.OrderLookupEndpoint); err != nil {
		log.Fatal().Err(err).Msg("gateway target registration failed")
	}

	retrievalClient := retrievalx.MustNew(*configx.MustNew[retrievalx.Config]("RETRIEVAL"))

	registry := toolx.NewRegistry()
	defs := toolx.Defaults(catalog, retrievalClient, appCfg.OrderLookupTarget, nil)
	if err := toolx.RegisterAll(registry, defs); err != nil {
		log.Fatal().Err(err).Msg("tool registration failed")
	}

	dispatcher, err := toolx.NewDispatcher(registry, gatewayClient)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatcher init failed")
	}

	inferenceCfg := configx.MustNew[inferencex.Config]("INFERENCE")
	planner, responder, err := plannerx.NewEngine(ctx, inferenceCfg, registry.Infos())
	if err != nil {
		log.Fatal().Err(err).Msg("planner init failed")
	}

	orchestrator, err := orchestratorx.New(
		sessionStore,
		planner,
		responder,
		dispatcher,
		memoryManager,
		*configx.MustNew[orchestratorx.Config]("ORCHESTRATOR"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator init failed")
	}

	pool, err := runtimex.NewPool(orchestrator, *configx.MustNew[runtimex.PoolConfig]("POOL"))
	if err != nil {
		log.Fatal().Err(err).Msg("turn pool init failed")
	}
	defer pool.Close()

	log.Info().Msg("assistant ready")
	runConsole(ctx, pool)
}

// runConsole drives turns from stdin as "customer_id: utterance" lines.
func runConsole(ctx context.Context, pool *runtimex.Pool) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		customerID, utterance := "console", line
		if at := strings.Index(line, ":"); at > 0 {
			customerID = strings.TrimSpace(line[:at])
			utterance = strings.TrimSpace(line[at+1:])
		}

		done, err := pool.Submit(ctx, customerID, utterance)
		if err != nil {
			log.Error().Err(err).Msg("turn rejected")
			return
		}

		select {
		case res := <-done:
			if res.Err != nil {
				fmt.Printf("error: %v\n", res.Err)
				continue
			}
			fmt.Println(res.Reply)
		case <-ctx.Done():
			return
		}
	}
}
