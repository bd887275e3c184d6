package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lottery-ticket-reservation/internal/model"
	"github.com/iliyamo/lottery-ticket-reservation/internal/queue"
	"github.com/iliyamo/lottery-ticket-reservation/internal/repository"
)

// Pruner reclaims lapsed holds and deletes submitted orders left without
// tickets. Every row is handled in its own transaction so one bad row never
// blocks the rest of a sweep.
type Pruner struct {
	store    repository.Store
	now      func() time.Time
	audit    AuditPublisher
	interval time.Duration
	log      *logrus.Entry
}

func NewPruner(store repository.Store, interval time.Duration, now func() time.Time, audit AuditPublisher) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if audit == nil {
		audit = NopPublisher{}
	}
	return &Pruner{
		store:    store,
		now:      now,
		audit:    audit,
		interval: interval,
		log:      logrus.WithField("component", "pruner"),
	}
}

// PruneReport summarizes one cycle.
type PruneReport struct {
	Reclaimed     []string
	GhostsDeleted []uint64
	Failed        int
}

// Run prunes immediately and then on every tick until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("prune cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// PruneOnce runs the expired-ticket sweep and then the ghost-order sweep.
func (p *Pruner) PruneOnce(ctx context.Context) (PruneReport, error) {
	start := time.Now()
	defer func() { pruneDuration.Observe(time.Since(start).Seconds()) }()

	var rep PruneReport
	reclaimed, emptied, failed, err := p.SweepExpired(ctx)
	rep.Reclaimed, rep.GhostsDeleted, rep.Failed = reclaimed, emptied, failed
	if err != nil {
		return rep, err
	}
	ghosts, failed, err := p.SweepGhosts(ctx)
	rep.GhostsDeleted = append(rep.GhostsDeleted, ghosts...)
	rep.Failed += failed
	if err != nil {
		return rep, err
	}
	p.log.WithFields(logrus.Fields{
		"reclaimed": len(rep.Reclaimed),
		"ghosts":    len(rep.GhostsDeleted),
		"failed":    rep.Failed,
	}).Info("prune finished")
	return rep, nil
}

// SweepExpired resets every ticket whose expire_at has passed, removes it
// from the aggregate holding it and from its buyer's projection, and
// deletes aggregates that end up empty. It returns the reclaimed codes and
// the ids of deleted aggregates.
func (p *Pruner) SweepExpired(ctx context.Context) (reclaimed []string, deleted []uint64, failed int, err error) {
	now := p.now()
	codes, err := p.store.ExpiredTicketCodes(ctx, now)
	if err != nil {
		return nil, nil, 0, model.WrapTx("scan expired tickets", err)
	}
	for _, code := range codes {
		if ctx.Err() != nil {
			return reclaimed, deleted, failed, ctx.Err()
		}
		res, err := p.reclaim(ctx, code, now)
		if err != nil {
			failed++
			pruneFailures.WithLabelValues("expired").Inc()
			p.log.WithError(err).WithField("code", code).Warn("skip ticket")
			continue
		}
		if !res.reclaimed {
			continue
		}
		reclaimed = append(reclaimed, code)
		pruneReclaimed.Inc()

		fields := logrus.Fields{"code": code, "buyer_id": res.buyerID, "status": res.from}
		if res.orderID != 0 {
			fields["order_id"] = res.orderID
		}
		p.log.WithFields(fields).Info("ticket reclaimed")

		ev := queue.NewAuditEvent(queue.EventTicketReclaimed, now)
		ev.Codes, ev.BuyerID, ev.OrderID, ev.Reason = []string{code}, res.buyerID, res.orderID, "hold expired while "+string(res.from)
		publishAudit(ctx, p.audit, ev)

		if res.orderDeleted {
			deleted = append(deleted, res.orderID)
			pruneGhostsDeleted.Inc()
			p.log.WithFields(logrus.Fields{"order_id": res.orderID, "buyer_id": res.buyerID}).Info("empty order deleted")
			gev := queue.NewAuditEvent(queue.EventOrderGhostDelete, now)
			gev.OrderID, gev.BuyerID, gev.Reason = res.orderID, res.buyerID, "last ticket reclaimed"
			publishAudit(ctx, p.audit, gev)
		}
	}
	return reclaimed, deleted, failed, nil
}

type reclaimResult struct {
	reclaimed    bool
	from         model.TicketStatus
	buyerID      uint64
	orderID      uint64
	orderDeleted bool
}

func (p *Pruner) reclaim(ctx context.Context, code string, now time.Time) (res reclaimResult, err error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return res, model.WrapTx("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	order, err := tx.OrderContainingForUpdate(ctx, code)
	hasOrder := err == nil
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return res, err
	}
	tk, err := tx.TicketForUpdate(ctx, code)
	if err != nil {
		return res, err
	}
	// A live request may have moved the ticket since the scan.
	if !tk.Expired(now) {
		return res, nil
	}

	res.from, res.buyerID = tk.Status, tk.BuyerID
	if tk.Status == model.StatusOrdered {
		err = tk.RemoveOrder()
	} else {
		tk.Reset()
	}
	if err != nil {
		return res, err
	}
	if err := tx.SaveTicket(ctx, tk); err != nil {
		return res, err
	}

	if hasOrder {
		res.orderID = order.ID
		order.RemoveItem(code)
		if order.Items.Empty() {
			res.orderDeleted = true
			err = tx.DeleteOrder(ctx, order.ID)
		} else {
			err = tx.SaveOrder(ctx, order)
		}
		if err != nil {
			return res, err
		}
	} else {
		p.log.WithField("code", code).Warn("no order holds expired ticket")
	}

	if res.buyerID != 0 {
		u, err := tx.UserForUpdate(ctx, res.buyerID)
		switch {
		case errors.Is(err, model.ErrNotFound):
		case err != nil:
			return res, err
		default:
			u.ReleaseTicket(code)
			if err := tx.SaveUserTickets(ctx, u); err != nil {
				return res, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return res, model.WrapTx("commit", err)
	}
	committed = true
	res.reclaimed = true
	return res, nil
}

// SweepGhosts deletes submitted aggregates whose item list is empty.
func (p *Pruner) SweepGhosts(ctx context.Context) (deleted []uint64, failed int, err error) {
	ids, err := p.store.GhostOrderIDs(ctx)
	if err != nil {
		return nil, 0, model.WrapTx("scan ghost orders", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return deleted, failed, ctx.Err()
		}
		gone, buyer, err := p.deleteGhost(ctx, id)
		if err != nil {
			failed++
			pruneFailures.WithLabelValues("ghost").Inc()
			p.log.WithError(err).WithField("order_id", id).Warn("skip order")
			continue
		}
		if !gone {
			continue
		}
		deleted = append(deleted, id)
		pruneGhostsDeleted.Inc()
		p.log.WithFields(logrus.Fields{"order_id": id, "buyer_id": buyer}).Info("ghost order deleted")
		ev := queue.NewAuditEvent(queue.EventOrderGhostDelete, p.now())
		ev.OrderID, ev.BuyerID, ev.Reason = id, buyer, "submitted order without tickets"
		publishAudit(ctx, p.audit, ev)
	}
	return deleted, failed, nil
}

func (p *Pruner) deleteGhost(ctx context.Context, id uint64) (bool, uint64, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return false, 0, model.WrapTx("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	o, err := tx.OrderForUpdate(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if !o.Ghost() {
		return false, 0, nil
	}
	if err := tx.DeleteOrder(ctx, id); err != nil {
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, model.WrapTx("commit", err)
	}
	return true, o.BuyerID, nil
}
