package multitable

import (
	"context"
	"fmt"

	"feedbacketl/internal/storage"
)

// keySets holds the dimension keys read back from the store.
type keySets struct {
	products  map[string]struct{}
	customers map[string]struct{}
}

func readKeySets(ctx context.Context, repo storage.Repository, productsTable, customersTable string) (keySets, error) {
	products, err := repo.SelectKeys(ctx, productsTable, "ProductoID")
	if err != nil {
		return keySets{}, fmt.Errorf("read %s keys: %w", productsTable, err)
	}
	customers, err := repo.SelectKeys(ctx, customersTable, "ClienteID")
	if err != nil {
		return keySets{}, fmt.Errorf("read %s keys: %w", customersTable, err)
	}
	return keySets{products: products, customers: customers}, nil
}

// filterIntegrity keeps rows whose product and customer both exist in keys.
// It filters in place and returns the kept rows and the number dropped.
func filterIntegrity(rows []opinion, keys keySets) ([]opinion, int) {
	kept := rows[:0]
	for _, r := range rows {
		if _, ok := keys.products[storage.NormalizeKey(r.V[opProduct])]; !ok {
			continue
		}
		if _, ok := keys.customers[storage.NormalizeKey(r.V[opCustomer])]; !ok {
			continue
		}
		kept = append(kept, r)
	}
	dropped := len(rows) - len(kept)
	clear(rows[len(kept):])
	return kept, dropped
}
