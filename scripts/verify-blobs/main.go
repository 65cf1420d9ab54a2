// verify-blobs compares the file references recorded in document_versions
// with the objects present in blob storage.
//
// Usage: go run ./scripts/verify-blobs [-delete-orphans]
//
// Configuration: same config.yaml / environment variables as the server.
//
// Missing objects (referenced but absent) are always reported and make the
// command exit non-zero. Orphans (stored but unreferenced, usually left by an
// interrupted upload) are reported and deleted only with -delete-orphans.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/config"
	"github.com/ekaya-inc/signportal/pkg/database"
	"github.com/ekaya-inc/signportal/pkg/repositories"
	"github.com/ekaya-inc/signportal/pkg/storage"
)

const documentsPrefix = "documents/"

func main() {
	deleteOrphans := flag.Bool("delete-orphans", false, "Delete stored objects no version references")
	flag.Parse()

	cfg, err := config.Load("verify-blobs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger := zap.NewNop()

	db, err := database.NewConnection(ctx, &database.Config{URL: cfg.Database.URL(), MaxConnections: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}

	scopedCtx, release, err := db.ScopedContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire connection: %v\n", err)
		os.Exit(1)
	}
	refs, err := repositories.NewVersionRepository().ListFileReferences(scopedCtx)
	release()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list file references: %v\n", err)
		os.Exit(1)
	}

	stored, err := blobs.List(ctx, documentsPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list stored objects: %v\n", err)
		os.Exit(1)
	}

	report := compare(refs, stored)
	fmt.Printf("Referenced: %d  Stored: %d  Missing: %d  Orphaned: %d\n",
		len(refs), len(stored), len(report.Missing), len(report.Orphaned))

	for _, key := range report.Missing {
		fmt.Printf("MISSING  %s\n", key)
	}
	for _, key := range report.Orphaned {
		if !*deleteOrphans {
			fmt.Printf("ORPHAN   %s\n", key)
			continue
		}
		if err := blobs.Delete(ctx, key); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to delete %s: %v\n", key, err)
			continue
		}
		fmt.Printf("DELETED  %s\n", key)
	}

	if len(report.Missing) > 0 {
		os.Exit(2)
	}
}

type consistencyReport struct {
	Missing  []string
	Orphaned []string
}

// compare returns referenced keys absent from storage and stored keys no
// version references, both sorted.
func compare(referenced, stored []string) consistencyReport {
	inStore := make(map[string]bool, len(stored))
	for _, key := range stored {
		inStore[key] = true
	}
	inDB := make(map[string]bool, len(referenced))
	for _, key := range referenced {
		inDB[key] = true
	}

	var report consistencyReport
	for key := range inDB {
		if !inStore[key] {
			report.Missing = append(report.Missing, key)
		}
	}
	for key := range inStore {
		if !inDB[key] {
			report.Orphaned = append(report.Orphaned, key)
		}
	}
	slices.Sort(report.Missing)
	slices.Sort(report.Orphaned)
	return report
}
