package outlier

import "gonum.org/v1/gonum/floats"

// NoiseLabel はどのクラスタにも属さない点のラベル
const NoiseLabel = -1

const unclassified = -2

// dbscan は各行のクラスタラベルを返す（0始まり、ノイズは NoiseLabel）
// 近傍は距離 eps 以下の点で、自身を含めて minSamples 以上あればコア点とする
func dbscan(rows [][]float64, eps float64, minSamples int) []int {
	labels := make([]int, len(rows))
	for i := range labels {
		labels[i] = unclassified
	}

	cluster := 0
	for i := range rows {
		if labels[i] != unclassified {
			continue
		}
		seeds := regionQuery(rows, i, eps)
		if len(seeds) < minSamples {
			labels[i] = NoiseLabel
			continue
		}

		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == NoiseLabel {
				// 境界点
				labels[j] = cluster
			}
			if labels[j] != unclassified {
				continue
			}
			labels[j] = cluster
			if neighbours := regionQuery(rows, j, eps); len(neighbours) >= minSamples {
				seeds = append(seeds, neighbours...)
			}
		}
		cluster++
	}

	return labels
}

func regionQuery(rows [][]float64, i int, eps float64) []int {
	var out []int
	for j := range rows {
		if floats.Distance(rows[i], rows[j], 2) <= eps {
			out = append(out, j)
		}
	}
	return out
}
