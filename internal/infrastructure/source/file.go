package source

import (
	"context"
	"fmt"
	"os"

	"github.com/crmsync/backend/internal/domain/customer"
)

// LoadFile reads a saved users response ({"items": [...]}) from disk and
// returns it as a Scan, so it can go through the regular import path.
func LoadFile(ctx context.Context, path string) (*Scan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	page, err := decodePage(data)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}

	return &Scan{run: func(yield func(customer.ExternalRecord, error) bool, st *customer.ScanStats) {
		if len(page.Items) > 0 {
			st.Pages = 1
		}
		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			st.Items++
			if !yield(item, nil) {
				return
			}
		}
	}}, nil
}
