package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
)

// adjustInventory decrements stock for every line of a newly paid order.
// Lines are independent: a failure on one never stops the others, and
// nothing here fails the fulfillment. Problems come back as alerts, and
// storageFailure reports whether any of them was a store error rather than
// an oversell.
func (p *Pipeline) adjustInventory(ctx context.Context, order *domain.Order) (alerts []string, storageFailure bool) {
	var mu sync.Mutex
	addAlert := func(format string, args ...any) {
		mu.Lock()
		alerts = append(alerts, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.opts.InventoryWorkers)

	for _, item := range order.Items {
		g.Go(func() error {
			level, err := p.stock.Decrement(ctx, item.ProductID, item.Quantity)
			switch {
			case errors.Is(err, catalog.ErrOversold):
				shortfall := 0
				if level != nil {
					shortfall = level.Shortfall
				}
				addAlert("OVERSOLD: %s (%s) short by %d for order %s", item.Name, item.ProductID, shortfall, order.ID)
				p.logger.Error("product oversold", "order_id", order.ID, "product_id", item.ProductID, "quantity", item.Quantity, "shortfall", shortfall)
			case err != nil:
				addAlert("stock for %s (%s) was not reduced by %d: %v", item.Name, item.ProductID, item.Quantity, err)
				mu.Lock()
				storageFailure = true
				mu.Unlock()
				p.logger.Error("failed to decrement stock", "error", err, "order_id", order.ID, "product_id", item.ProductID)
			default:
				p.logger.Info("stock decremented", "order_id", order.ID, "product_id", level.ProductID, "inventory", level.Inventory, "sold_out", level.IsSoldOut)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(alerts)
	return alerts, storageFailure
}
