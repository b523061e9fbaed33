// Command validator is the validator-core process entrypoint: it loads
// configuration, builds the dependency graph (pkg/bootstrap), and runs
// until an interrupt or SIGTERM, then shuts the graph down before
// exiting (spec §2 "Wiring / bootstrap"; spec §5 "Cancellation").
//
// Grounded on github.com/Mindburn-Labs/helm/core/cmd/helm's main.go for
// the "serve" path (same os.Exit(Run(...)) dispatcher shape and
// signal.Notify shutdown wait) and on apps/helm-node/main.go for the
// args-dispatching Run(args, stdout, stderr) shape that lets a
// diagnostic subcommand live alongside the server in one binary.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caster-hub/validator-core/pkg/bootstrap"
	"github.com/caster-hub/validator-core/pkg/budget"
	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can swap it out for a no-op.
var startServer = runServer

// Run is the entrypoint used by main and by tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer()
	}

	switch args[1] {
	case "serve":
		return startServer()
	case "commitment":
		return runCommitment(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s. Defaulting to serve...\n", args[1])
		return startServer()
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: validator <command> [arguments]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  serve       Run the validator control plane (default)")
	fmt.Fprintln(w, "  commitment  Publish or fetch a chain commitment (diagnostic)")
}

func runServer() int {
	cfg := config.Load()
	if cfg.Sandbox.Image == "" {
		log.Println("validator: warning: CASTER_SANDBOX_IMAGE is not set; candidate evaluation will fail until configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// search/LLM providers and the chain client are out-of-scope opaque
	// ports (spec §1 "Out of scope: external collaborators"); this
	// process runs against the in-memory chain.Fake and with no
	// search/LLM provider wired until a deployment supplies real ones.
	tariffs := map[string]budget.ModelTariff{}

	graph, err := bootstrap.Build(ctx, cfg, nil, nil, nil, tariffs, nil)
	if err != nil {
		log.Printf("validator: bootstrap failed: %v", err)
		return 1
	}

	log.Printf("validator: ready on %s:%s", cfg.Host, cfg.Port)
	log.Println("validator: press ctrl+c to stop")

	if err := graph.Run(ctx); err != nil {
		log.Printf("validator: run exited with error: %v", err)
		return 1
	}
	log.Println("validator: shut down cleanly")
	return 0
}

// runCommitment exercises chain.Client's publish_commitment/fetch_commitment
// pair (SPEC_FULL.md supplemented feature 6, application/ports/subtensor.py):
// these sit on the chain port but are unused by the batch/weight path, so
// this diagnostic is their only caller in this repo. It runs against
// chain.NewFake() since a real Subtensor client is out of scope (spec §1).
func runCommitment(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: validator commitment <publish DATA BLOCKS_UNTIL_REVEAL | fetch UID>")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := chain.NewFake()
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer client.Close(ctx)

	switch args[0] {
	case "publish":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: validator commitment publish DATA BLOCKS_UNTIL_REVEAL")
			return 1
		}
		blocksUntilReveal, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(stderr, "invalid BLOCKS_UNTIL_REVEAL: %v\n", err)
			return 1
		}
		if err := client.PublishCommitment(ctx, []byte(args[1]), blocksUntilReveal); err != nil {
			fmt.Fprintf(stderr, "publish: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "commitment published")
		return 0

	case "fetch":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: validator commitment fetch UID")
			return 1
		}
		uid, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "invalid UID: %v\n", err)
			return 1
		}
		rec, err := client.FetchCommitment(ctx, uid)
		if err != nil {
			fmt.Fprintf(stderr, "fetch: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "uid=%d block=%d reveal_at=%d data=%q\n", rec.UID, rec.Block, rec.RevealAt, rec.Data)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown commitment subcommand: %s\n", args[0])
		return 1
	}
}
