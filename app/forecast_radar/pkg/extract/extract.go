// Package extract 从模型回复中解析结构化的预测值。
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoEstimate 回复中找不到需要的数值
var ErrNoEstimate = errors.New("no estimate found in response")

// RequiredPercentiles 数值预测必须给出的分位点
var RequiredPercentiles = []int{10, 25, 50, 75, 90}

var (
	percentRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	percentileRe = regexp.MustCompile(`(?i)percentile`)
	numberRe     = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	signedRe     = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?`)
)

// Probability 取回复中最后一个百分数作为概率，结果必须落在 (0, 1)
func Probability(text string) (float64, error) {
	matches := percentRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: missing percentage", ErrNoEstimate)
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoEstimate, err)
	}
	p := v / 100
	if p <= 0 || p >= 1 {
		return 0, fmt.Errorf("%w: probability %v outside (0, 1)", ErrNoEstimate, p)
	}
	return p, nil
}

// Percentiles 解析形如 "Percentile 10: 1,234" 的行。
// 同一分位点出现多次时以最后一次为准，缺少 RequiredPercentiles 中任一项视为失败
func Percentiles(text string) (map[int]float64, error) {
	out := make(map[int]float64)
	for _, line := range strings.Split(text, "\n") {
		if !percentileRe.MatchString(line) {
			continue
		}
		locs := numberRe.FindAllStringIndex(line, -1)
		if len(locs) < 2 {
			continue
		}
		key, err := parseNumber(line[locs[0][0]:locs[0][1]])
		if err != nil || key <= 0 || key >= 100 {
			continue
		}
		last := locs[len(locs)-1]
		value, err := parseNumber(line[last[0]:last[1]])
		if err != nil {
			continue
		}
		// 冒号之后、数值之前出现负号时取负
		head := line[:last[0]]
		if i := strings.LastIndex(head, ":"); i >= 0 {
			head = head[i+1:]
		} else {
			head = line[locs[0][1]:last[0]]
		}
		if strings.Contains(head, "-") {
			value = -value
		}
		out[int(key)] = value
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no percentile lines", ErrNoEstimate)
	}
	var missing []string
	for _, p := range RequiredPercentiles {
		if _, ok := out[p]; !ok {
			missing = append(missing, strconv.Itoa(p))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing percentiles %s", ErrNoEstimate, strings.Join(missing, ","))
	}
	return out, nil
}

// OptionProbabilities 取每行最后一个数字，再取最后 n 个作为各选项的原始概率
func OptionProbabilities(text string, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: no options", ErrNoEstimate)
	}
	var values []float64
	for _, line := range strings.Split(text, "\n") {
		nums := signedRe.FindAllString(line, -1)
		if len(nums) == 0 {
			continue
		}
		v, err := parseNumber(nums[len(nums)-1])
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	if len(values) < n {
		return nil, fmt.Errorf("%w: found %d option values, want %d", ErrNoEstimate, len(values), n)
	}
	return values[len(values)-n:], nil
}

// SortedKeys 按升序返回分位点
func SortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
