package outlier

import (
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/floats"
)

// Strategy は外れ値検出の戦略
type Strategy string

const (
	// StrategyCentroid は重心からの距離のパーセンタイルで外れ値を判定する
	StrategyCentroid Strategy = "centroid"
	// StrategyDBSCAN は密度クラスタリングのノイズ点を外れ値とする
	StrategyDBSCAN Strategy = "dbscan"
)

const (
	// CentroidPercentile は距離しきい値のパーセンタイル（これより遠い行が外れ値）
	CentroidPercentile = 85.0
	// DBSCANEps は近傍半径（単位ノルム埋め込み間のユークリッド距離）
	DBSCANEps = 0.5
	// DBSCANMinSamples はコア点に必要な近傍数（自身を含む）
	DBSCANMinSamples = 5
)

// ParseStrategy は文字列から戦略を解決する（空文字はStrategyCentroid）
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyCentroid:
		return StrategyCentroid, nil
	case StrategyDBSCAN:
		return StrategyDBSCAN, nil
	default:
		return "", &InvalidStrategyError{Value: s}
	}
}

// DetectParams は検出パラメータ（ゼロ値は定数を使用する）
type DetectParams struct {
	Percentile float64
	Eps        float64
	MinSamples int
}

func (p DetectParams) withDefaults() DetectParams {
	if p.Percentile <= 0 || p.Percentile > 100 {
		p.Percentile = CentroidPercentile
	}
	if p.Eps <= 0 {
		p.Eps = DBSCANEps
	}
	if p.MinSamples <= 0 {
		p.MinSamples = DBSCANMinSamples
	}
	return p
}

// Detection は1回の検出結果
type Detection struct {
	Strategy Strategy
	Verdicts []Verdict
	// Outliers は外れ値と判定された行インデックスの集合
	Outliers *roaring.Bitmap
	// Threshold はcentroid戦略の距離しきい値（dbscanでは0）
	Threshold float64
	// Degenerate は行数不足で判定を行わなかったことを示す
	// centroid は2行未満、dbscan は0行のとき
	Degenerate bool
}

// Count は外れ値の件数
func (d *Detection) Count() int {
	return int(d.Outliers.GetCardinality())
}

// Indices は外れ値の行インデックスを昇順で返す
func (d *Detection) Indices() []int {
	arr := d.Outliers.ToArray()
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	return out
}

// OutlierIDs は外れ値のアイテムIDをインデックス順で返す
func (d *Detection) OutlierIDs() []string {
	ids := make([]string, 0, d.Count())
	for _, i := range d.Indices() {
		ids = append(ids, d.Verdicts[i].ItemID)
	}
	return ids
}

// Detect は特徴行列から外れ値を検出する
// 戦略は純粋関数で、同じ入力に対して常に同じ結果を返す
func Detect(matrix FeatureMatrix, strategy Strategy, params DetectParams) (*Detection, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, err
	}
	params = params.withDefaults()

	rows := toFloat64(matrix.Rows)
	d := &Detection{
		Strategy: strategy,
		Verdicts: make([]Verdict, len(rows)),
		Outliers: roaring.New(),
	}
	for i := range d.Verdicts {
		d.Verdicts[i] = Verdict{Index: i, ItemID: matrix.IDs[i]}
	}

	switch strategy {
	case StrategyCentroid:
		detectCentroid(d, rows, params.Percentile)
	case StrategyDBSCAN:
		detectDBSCAN(d, rows, params.Eps, params.MinSamples)
	}

	return d, nil
}

func detectCentroid(d *Detection, rows [][]float64, percentile float64) {
	if len(rows) < 2 {
		d.Degenerate = true
		return
	}

	distances := centroidDistances(rows)
	threshold, outliers := beyondPercentile(distances, percentile)
	d.Threshold = threshold
	for i, dist := range distances {
		d.Verdicts[i].Score = dist
	}
	for _, i := range outliers {
		d.Verdicts[i].Outlier = true
		d.Outliers.Add(uint32(i))
	}
}

// beyondPercentile はしきい値とそれを厳密に超える値のインデックスを返す
func beyondPercentile(values []float64, percentile float64) (float64, []int) {
	threshold := Percentile(values, percentile)
	var out []int
	for i, v := range values {
		if v > threshold {
			out = append(out, i)
		}
	}
	return threshold, out
}

// detectDBSCAN は1行でもクラスタリングする（孤立した点はノイズ）
func detectDBSCAN(d *Detection, rows [][]float64, eps float64, minSamples int) {
	if len(rows) == 0 {
		d.Degenerate = true
		return
	}

	labels := dbscan(rows, eps, minSamples)
	for i, label := range labels {
		d.Verdicts[i].Cluster = label
		if label == NoiseLabel {
			d.Verdicts[i].Outlier = true
			d.Outliers.Add(uint32(i))
		}
	}
}

// centroidDistances は各行と要素ごとの平均ベクトルとのユークリッド距離を返す
func centroidDistances(rows [][]float64) []float64 {
	centroid := make([]float64, len(rows[0]))
	for _, row := range rows {
		floats.Add(centroid, row)
	}
	floats.Scale(1/float64(len(rows)), centroid)

	distances := make([]float64, len(rows))
	for i, row := range rows {
		distances[i] = floats.Distance(row, centroid, 2)
	}
	return distances
}

// Percentile は線形補間によるパーセンタイル値を返す
// 位置 p/100*(n-1) の前後の順位の値を補間する
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func toFloat64(rows []Embedding) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		v := make([]float64, len(row))
		for j, x := range row {
			v[j] = float64(x)
		}
		out[i] = v
	}
	return out
}
