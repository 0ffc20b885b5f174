package usecase

import "content-batch/internal/domain/model"

// CostTable is the credit price of one generated item per content kind.
type CostTable map[model.ContentKind]int64

// DefaultItemCost applies to kinds missing from the table.
const DefaultItemCost int64 = 1

func NewCostTable(article, socialPost, video int64) CostTable {
	return CostTable{
		model.ContentArticle:    article,
		model.ContentSocialPost: socialPost,
		model.ContentVideo:      video,
	}
}

func (c CostTable) Cost(spec model.ContentSpec) int64 {
	if v, ok := c[spec.Kind]; ok && v > 0 {
		return v
	}
	return DefaultItemCost
}

// Estimate sums the cost of specs.
func (c CostTable) Estimate(specs []model.ContentSpec) int64 {
	var total int64
	for _, s := range specs {
		total += c.Cost(s)
	}
	return total
}
