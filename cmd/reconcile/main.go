// Command reconcile repairs drift between the share ledger, the quota
// accounting and the artifact store. It recomputes every owner's used
// bytes from the live records and optionally removes stored blobs
// that no record references. Run it offline or against a quiet server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lk2023060901/fileshare-backend/internal/conf"
	"github.com/lk2023060901/fileshare-backend/internal/data"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/logger"
	sharedata "github.com/lk2023060901/fileshare-backend/internal/share/data"
)

var (
	configFile    = flag.String("config", "config.yaml", "config file path")
	removeOrphans = flag.Bool("remove-orphans", false, "delete stored blobs no record references")
	dryRun        = flag.Bool("dry-run", false, "report what would change without writing")
)

func main() {
	flag.Parse()

	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	ctx := context.Background()
	records, err := sharedata.NewRecordRepo(d.DB).ListAll(ctx)
	if err != nil {
		log.Fatal("failed to list ledger", zap.Error(err))
	}

	// Recompute per-owner usage from the live ledger.
	usage := make(map[string]int64)
	referenced := make(map[string]bool)
	for _, r := range records {
		usage[r.OwnerID] += r.TotalSize
		for _, key := range r.BlobKeys() {
			referenced[key] = true
		}
	}

	log.Info("ledger scanned",
		zap.Int("records", len(records)),
		zap.Int("owners", len(usage)))

	if !*dryRun {
		if err := rewriteUsage(ctx, d, usage); err != nil {
			log.Fatal("failed to rewrite owner usage", zap.Error(err))
		}
	}
	for owner, bytes := range usage {
		log.Info("owner usage", zap.String("owner_id", owner), zap.Int64("used_bytes", bytes))
	}

	keys, err := d.Store.ListKeys(ctx)
	if err != nil {
		log.Fatal("failed to list stored blobs", zap.Error(err))
	}
	var orphans []string
	for _, key := range keys {
		if !referenced[key] {
			orphans = append(orphans, key)
		}
	}
	log.Info("store scanned",
		zap.Int("objects", len(keys)),
		zap.Int("orphans", len(orphans)))

	if len(orphans) > 0 && *removeOrphans && !*dryRun {
		if err := d.Store.Delete(ctx, orphans...); err != nil {
			log.Fatal("failed to remove orphan blobs", zap.Error(err))
		}
		log.Info("orphan blobs removed", zap.Int("count", len(orphans)))
	} else {
		for _, key := range orphans {
			log.Warn("orphan blob", zap.String("key", key))
		}
	}
}

// rewriteUsage replaces the accounting table with the recomputed
// totals. Reservations are zeroed; anything in flight while the tool
// runs would be drift anyway.
func rewriteUsage(ctx context.Context, d *data.Data, usage map[string]int64) error {
	return d.DB.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&sharedata.OwnerUsagePO{}).Error; err != nil {
			return err
		}
		for owner, bytes := range usage {
			po := &sharedata.OwnerUsagePO{
				OwnerID:   owner,
				UsedBytes: bytes,
				UpdatedAt: time.Now(),
			}
			if err := tx.Create(po).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
