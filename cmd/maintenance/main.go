// Command maintenance runs one maintenance pass (orphan sweep, entity
// dedup, vector reconciliation) over every user with at least one entity,
// then exits. Intended to run on a schedule (cron, k8s CronJob).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/graphweave/engine/engine/maintenance"
	"github.com/graphweave/engine/internal/mlclient"
	"github.com/graphweave/engine/internal/store/graphdb"
	"github.com/graphweave/engine/internal/store/vectordb"
	"github.com/graphweave/engine/pkg/metrics"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	neo4jURL := flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
	neo4jUser := flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
	neo4jPass := flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
	qdrantAddr := flag.String("qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
	mlAddr := flag.String("ml-worker", envOr("ML_WORKER_ADDR", "localhost:50051"), "ML worker gRPC address")
	pageLimit := flag.Int("limit", 500, "max rows processed per query per sweep")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		log.Fatalf("neo4j connect: %v", err)
	}
	defer driver.Close(ctx)

	graphStore := graphdb.New(driver)

	vectorStore, err := vectordb.New(*qdrantAddr)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer vectorStore.Close()

	ml, err := mlclient.Dial(*mlAddr, 768)
	if err != nil {
		log.Fatalf("ml worker dial: %v", err)
	}
	defer ml.Close()

	sw := &maintenance.Sweeper{
		Graph:    graphStore,
		Vectors:  vectorStore,
		Embedder: ml,
		Metrics:  metrics.New(),
	}

	users, err := listUserIDs(ctx, graphStore)
	if err != nil {
		log.Fatalf("list users: %v", err)
	}
	log.Printf("found %d users with entities", len(users))

	var totalOrphans, totalMerged, totalReconciled, errs int
	for i, userID := range users {
		rep, err := sw.Run(ctx, userID, *pageLimit)
		if err != nil {
			log.Printf("[%d/%d] maintenance run failed for user %s: %v", i+1, len(users), userID, err)
			errs++
			continue
		}
		totalOrphans += rep.OrphansDeleted
		totalMerged += rep.EntitiesMerged
		totalReconciled += rep.VectorsReconciled
	}

	log.Printf("done: %d users, %d orphans deleted, %d entities merged, %d vectors reconciled, %d errors",
		len(users), totalOrphans, totalMerged, totalReconciled, errs)
}

// listUserIDs returns the distinct userIds present on Entity nodes, the
// population this pass of DedupEntities/OrphanSweep iterates over.
func listUserIDs(ctx context.Context, gs *graphdb.Store) ([]string, error) {
	return gs.DistinctEntityUserIDs(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
