package stage

import (
	mapset "github.com/deckarep/golang-set/v2"

	"loan-lifecycle/internal/models"
)

// Requirements holds the required document types per product.
type Requirements struct {
	byProduct map[string]mapset.Set[models.DocumentType]
}

func NewRequirements(byProduct map[string][]models.DocumentType) *Requirements {
	r := &Requirements{byProduct: make(map[string]mapset.Set[models.DocumentType], len(byProduct))}
	for product, types := range byProduct {
		if len(types) == 0 {
			continue
		}
		r.byProduct[product] = mapset.NewThreadUnsafeSet(types...)
	}
	return r
}

// For returns the required set for a product, or nil if none is defined.
func (r *Requirements) For(product string) mapset.Set[models.DocumentType] {
	if r == nil {
		return nil
	}
	return r.byProduct[product]
}
