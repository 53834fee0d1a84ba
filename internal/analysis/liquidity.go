package analysis

import (
	"math"
	"sort"

	"smcbot/internal/models"
	"smcbot/pkg/utils"
)

const (
	// EqualLevelTolerance равные максимумы/минимумы: в пределах 0.1%
	EqualLevelTolerance = 0.001
	// LiquidityProximity близость цены к пулу: 0.5%
	LiquidityProximity = 0.005
)

// DetectLiquidityPools кластеры из двух и более swing-точек одного вида
// с ценами в пределах tolerance друг от друга
func DetectLiquidityPools(swings []models.SwingPoint, tolerance float64) []models.LiquidityPool {
	var pools []models.LiquidityPool
	pools = append(pools, clusterLevels(swings, models.SwingHigh, models.EqualHighs, tolerance)...)
	pools = append(pools, clusterLevels(swings, models.SwingLow, models.EqualLows, tolerance)...)
	return pools
}

func clusterLevels(swings []models.SwingPoint, kind models.SwingKind, pool models.PoolKind, tolerance float64) []models.LiquidityPool {
	var prices []float64
	for _, s := range swings {
		if s.Kind == kind {
			prices = append(prices, s.Price)
		}
	}
	sort.Float64s(prices)

	var out []models.LiquidityPool
	for i := 0; i < len(prices); {
		j := i + 1
		for j < len(prices) && utils.PercentDistance(prices[j], prices[i]) <= tolerance {
			j++
		}
		if j-i >= 2 {
			out = append(out, models.LiquidityPool{
				Kind:      pool,
				Level:     utils.Sum(prices[i:j]) / float64(j-i),
				TestCount: j - i,
			})
		}
		i = j
	}
	return out
}

// NearestPool ближайший к цене пул в пределах maxDistance (доля)
func NearestPool(pools []models.LiquidityPool, price, maxDistance float64) (models.LiquidityPool, bool) {
	var (
		best     models.LiquidityPool
		bestDist = math.Inf(1)
	)
	for _, p := range pools {
		if d := utils.PercentDistance(price, p.Level); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist <= maxDistance
}
