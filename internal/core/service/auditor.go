package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const auditBatchSize = 200

type SweepResult struct {
	Checked    int
	Unbalanced []domain.AuditReport
}

type auditJob struct {
	ctx       context.Context
	productID int64
	sweep     *sweep
}

// sweep collects the reports of one pass over the catalogue.
type sweep struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	result SweepResult
}

func (s *sweep) record(report domain.AuditReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Checked++
	if !report.Balanced() {
		s.result.Unbalanced = append(s.result.Unbalanced, report)
	}
}

// Auditor reconciles every product's quantity with its initial quantity plus
// the ledger balance. Product ids are fed through a bounded queue to a fixed
// pool of workers.
type Auditor struct {
	store port.Store
	stock *StockService
	log   logrus.FieldLogger
	queue chan auditJob
	wg    sync.WaitGroup
}

func NewAuditor(store port.Store, stock *StockService, log logrus.FieldLogger, queueSize int) *Auditor {
	if queueSize <= 0 {
		queueSize = auditBatchSize
	}
	return &Auditor{
		store: store,
		stock: stock,
		log:   log,
		queue: make(chan auditJob, queueSize),
	}
}

func (a *Auditor) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func(id int) {
			defer a.wg.Done()
			a.workerLoop(id)
		}(i)
	}
	a.log.WithField("workers", workers).Info("ledger auditor started")
}

// Close stops the workers once the queue is drained. Sweep must not be called
// after Close.
func (a *Auditor) Close() {
	close(a.queue)
	a.wg.Wait()
}

func (a *Auditor) workerLoop(id int) {
	for job := range a.queue {
		a.audit(id, job)
	}
}

func (a *Auditor) audit(worker int, job auditJob) {
	defer job.sweep.wg.Done()

	report, err := a.stock.Audit(job.ctx, job.productID)
	if errors.Is(err, domain.ErrNotFound) {
		// deleted since the sweep listed it
		return
	}
	if err != nil && job.ctx.Err() != nil {
		a.log.WithFields(logrus.Fields{"worker": worker, "product_id": job.productID}).Debug("audit cancelled")
		return
	}
	if err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{"worker": worker, "product_id": job.productID}).Error("audit failed")
		return
	}

	metrics.RecordAudit(report.Balanced())
	job.sweep.record(report)
	if !report.Balanced() {
		a.log.WithFields(logrus.Fields{
			"worker":           worker,
			"product_id":       report.ProductID,
			"quantity":         report.Quantity,
			"initial_quantity": report.InitialQuantity,
			"ledger_balance":   report.LedgerBalance,
			"drift":            report.Drift(),
		}).Error("ledger drift detected")
	}
}

// Sweep audits every product once and waits for the result.
func (a *Auditor) Sweep(ctx context.Context) (SweepResult, error) {
	sw := &sweep{}
	var afterID int64
	for {
		ids, err := a.nextBatch(ctx, afterID)
		if err != nil {
			sw.wg.Wait()
			return SweepResult{}, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			sw.wg.Add(1)
			select {
			case a.queue <- auditJob{ctx: ctx, productID: id, sweep: sw}:
			case <-ctx.Done():
				sw.wg.Done()
				sw.wg.Wait()
				return SweepResult{}, fmt.Errorf("audit sweep: %w: %w", domain.ErrInternal, ctx.Err())
			}
		}
		afterID = ids[len(ids)-1]
	}

	sw.wg.Wait()
	if err := ctx.Err(); err != nil {
		return SweepResult{}, fmt.Errorf("audit sweep: %w: %w", domain.ErrInternal, err)
	}
	metrics.SetUnbalancedProducts(len(sw.result.Unbalanced))
	a.log.WithFields(logrus.Fields{
		"checked":    sw.result.Checked,
		"unbalanced": len(sw.result.Unbalanced),
	}).Info("ledger audit finished")
	return sw.result, nil
}

func (a *Auditor) nextBatch(ctx context.Context, afterID int64) ([]int64, error) {
	var ids []int64
	err := a.store.WithinTx(ctx, port.TxOptions{ReadOnly: true}, func(tx port.Tx) error {
		var err error
		ids, err = tx.ListProductIDs(ctx, afterID, auditBatchSize)
		return err
	})
	return ids, err
}

// Run sweeps every interval until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).Warn("ledger audit sweep aborted")
			}
		}
	}
}
