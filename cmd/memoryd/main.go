// memoryd runs the knowledge memory engine as a long-lived process: it
// drains the extraction queue, expires idle sessions and serves as the
// backend for agents that ingest turns and query memory.
//
// Examples:
//
//	export OPENAI_API_KEY=...
//	memoryd -config memoryd.yaml
//
//	# one-shot: search a user's memory and print the context block
//	memoryd -config memoryd.yaml -user u1 -query "what does the user do?"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	memengine "github.com/NeuroFlow-Labs/memory-engine"
	"github.com/NeuroFlow-Labs/memory-engine/src/config"
)

var (
	flagConfig  = flag.String("config", "", "Path to the YAML config (defaults + env when empty)")
	flagUser    = flag.String("user", "", "User scope for one-shot queries")
	flagSession = flag.String("session", "", "Session scope for one-shot queries")
	flagQuery   = flag.String("query", "", "Run a single search and exit")
	flagTimeout = flag.Duration("timeout", 30*time.Second, "One-shot query timeout")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			fail(err)
		}
		cfg = loaded
	}

	ctx := context.Background()
	engine, err := memengine.NewFromConfig(ctx, cfg)
	if err != nil {
		fail(err)
	}

	if *flagQuery != "" {
		runQuery(ctx, engine)
		return
	}

	engine.Start()
	log.Printf("memoryd: started (graph=%s queue=%s)", backendName(cfg.Graph.Backend), backendName(cfg.Queue.Backend))

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Print("memoryd: shutting down")
	engine.Stop()
}

func runQuery(ctx context.Context, engine *memengine.Engine) {
	ctx, cancel := context.WithTimeout(ctx, *flagTimeout)
	defer cancel()

	if *flagSession != "" {
		if err := engine.BeginSession(*flagSession); err != nil {
			fail(err)
		}
	}
	scopes := engine.SearchScopes(*flagUser, *flagSession)
	block, used, err := engine.SynthesizeContext(ctx, *flagQuery, scopes)
	if err != nil {
		fail(err)
	}
	if !used {
		fmt.Println("no relevant memory")
		return
	}
	fmt.Println(block)
}

func backendName(name string) string {
	if name == "" {
		return "memory"
	}
	return name
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
