package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/logging"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	actorID       = "stress-test"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New("warn", cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	var store port.Store
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := sqlx.Connect("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.MaxDBConnections)
		if _, err := storage.Migrate(db.DB); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		store = storage.NewMySQLAdapter(db)
	default:
		store = storage.NewMemoryAdapter()
	}

	stock := service.NewStockService(store, logger, cfg.RequestTimeout)

	product, err := stock.CreateProduct(ctx, domain.NewProduct{
		Name:     fmt.Sprintf("stress-%d", time.Now().UnixNano()),
		Quantity: initialStock,
	})
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	var successCount, rejectedCount, failCount atomic.Int32

	// Phase 1: every caller takes one unit; only initialStock of them can win.
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, _, err := stock.AdjustStock(ctx, product.ID, domain.DirectionOutbound, 1, actorID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrValidation):
				rejectedCount.Add(1)
			default:
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	rejected := rejectedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.StoreDriver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && rejected == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d units were taken\n", initialStock)
	} else {
		fmt.Printf("FAIL: expected %d/%d taken/rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, rejected)
	}

	final, err := stock.GetProduct(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}
	fmt.Printf("Final Quantity:   %d\n", final.Quantity)
	if final.Quantity == 0 {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected quantity 0, got %d\n", final.Quantity)
	}

	// Phase 2: racing recounts. Last writer wins, but every delta must land in the ledger.
	var updateErrors atomic.Int32
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stock.UpdateProduct(ctx, product.ID, domain.ProductUpdate{
				Name:     final.Name,
				Quantity: rand.IntN(100),
			}, actorID)
			if err != nil {
				updateErrors.Add(1)
			}
		}()
	}
	wg.Wait()
	fmt.Printf("Update Errors:    %d\n", updateErrors.Load())

	report, err := stock.Audit(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to audit product: %v", err)
	}
	if report.Balanced() {
		fmt.Printf("PASS: ledger balances (%d %+d = %d)\n", report.InitialQuantity, report.LedgerBalance, report.Quantity)
	} else {
		fmt.Printf("FAIL: ledger drift of %d\n", report.Drift())
	}
}
