package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// ContinuousCDFSize 连续数值题的 CDF 点数
const ContinuousCDFSize = 201

// ErrInvalidRange 取值范围或零点非法
var ErrInvalidRange = errors.New("invalid question range")

// CDFSpec 生成 CDF 需要的问题参数
type CDFSpec struct {
	RangeMin  float64
	RangeMax  float64
	ZeroPoint *float64
	OpenLower bool
	OpenUpper bool
	Size      int
}

// CDFSpecFor 从问题读取 CDF 参数，问题没有有效取值范围时返回 false
func CDFSpecFor(q *model.Question) (CDFSpec, bool) {
	if !(q.Scaling.RangeMax > q.Scaling.RangeMin) {
		return CDFSpec{}, false
	}
	size := ContinuousCDFSize
	if q.Type == model.Discrete && q.Scaling.InboundOutcomeCount > 0 {
		size = q.Scaling.InboundOutcomeCount + 1
	}
	return CDFSpec{
		RangeMin:  q.Scaling.RangeMin,
		RangeMax:  q.Scaling.RangeMax,
		ZeroPoint: q.Scaling.ZeroPoint,
		OpenLower: q.OpenLowerBound,
		OpenUpper: q.OpenUpperBound,
		Size:      size,
	}, true
}

type cdfPoint struct {
	value float64
	prob  float64
}

// BuildCDF 把分位点插值成 spec.Size 个点的累积分布。
// 闭区间边界附近的值会向内收一个缓冲量；开区间边界之外的概率质量按已有分位点外推
func BuildCDF(percentiles []PercentileValue, spec CDFSpec) ([]float64, error) {
	if len(percentiles) == 0 {
		return nil, ErrNoUsableEstimate
	}
	if !(spec.RangeMax > spec.RangeMin) || spec.Size < 2 {
		return nil, fmt.Errorf("%w: [%v, %v] with %d points", ErrInvalidRange, spec.RangeMin, spec.RangeMax, spec.Size)
	}

	size := spec.RangeMax - spec.RangeMin
	buffer := 0.01 * size
	if size > 100 {
		buffer = 1
	}

	byPct := make(map[float64]float64, len(percentiles)+2)
	pMin, pMax := math.Inf(1), math.Inf(-1)
	for _, pv := range percentiles {
		v := pv.Value
		if !spec.OpenLower && v <= spec.RangeMin+buffer {
			v = spec.RangeMin + buffer
		}
		if !spec.OpenUpper && v >= spec.RangeMax-buffer {
			v = spec.RangeMax - buffer
		}
		p := float64(pv.Percentile)
		byPct[p] = v
		pMin = math.Min(pMin, p)
		pMax = math.Max(pMax, p)
	}

	if spec.OpenUpper {
		if spec.RangeMax > byPct[pMax] {
			byPct[math.Floor(100-0.5*(100-pMax))] = spec.RangeMax
		}
	} else {
		byPct[100] = spec.RangeMax
	}
	if spec.OpenLower {
		if spec.RangeMin < byPct[pMin] {
			byPct[math.Floor(0.5*pMin)] = spec.RangeMin
		}
	} else {
		byPct[0] = spec.RangeMin
	}

	// 值相同的点只保留百分位最高的那个
	pcts := make([]float64, 0, len(byPct))
	for p := range byPct {
		pcts = append(pcts, p)
	}
	sort.Float64s(pcts)
	byValue := make(map[float64]float64, len(pcts))
	for _, p := range pcts {
		byValue[byPct[p]] = p / 100
	}
	points := make([]cdfPoint, 0, len(byValue))
	for v, p := range byValue {
		points = append(points, cdfPoint{value: v, prob: p})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].value < points[j].value })

	xs, err := cdfLocations(spec)
	if err != nil {
		return nil, err
	}
	cdf := make([]float64, len(xs))
	for i, x := range xs {
		cdf[i] = interpolate(points, x)
	}
	return cdf, nil
}

// cdfLocations 横轴位置，设置 ZeroPoint 时使用对数刻度
func cdfLocations(spec CDFSpec) ([]float64, error) {
	ts := floats.Span(make([]float64, spec.Size), 0, 1)
	size := spec.RangeMax - spec.RangeMin
	if spec.ZeroPoint == nil {
		for i, t := range ts {
			ts[i] = spec.RangeMin + size*t
		}
		return ts, nil
	}

	zp := *spec.ZeroPoint
	ratio := (spec.RangeMax - zp) / (spec.RangeMin - zp)
	if ratio <= 0 || ratio == 1 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return nil, fmt.Errorf("%w: zero point %v", ErrInvalidRange, zp)
	}
	for i, t := range ts {
		ts[i] = spec.RangeMin + size*(math.Pow(ratio, t)-1)/(ratio-1)
	}
	return ts, nil
}

// interpolate 在相邻点之间线性插值，超出范围时取端点
func interpolate(points []cdfPoint, x float64) float64 {
	i := sort.Search(len(points), func(i int) bool { return points[i].value >= x })
	switch {
	case i == 0:
		return points[0].prob
	case i == len(points):
		return points[len(points)-1].prob
	case points[i].value == x:
		return points[i].prob
	}
	a, b := points[i-1], points[i]
	return a.prob + (x-a.value)*(b.prob-a.prob)/(b.value-a.value)
}
