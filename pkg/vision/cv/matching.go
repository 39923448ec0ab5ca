package cv

import (
	"image"
	"image/color"
	"sort"

	"gocv.io/x/gocv"
)

// MaxResultCount 单个模板在单个尺度下的最大匹配数
const MaxResultCount = 32

// Match 一处模板匹配，坐标相对于搜索图像左上角
type Match struct {
	Rect       image.Rectangle `json:"rect"`
	Confidence float64         `json:"confidence"`
	Template   string          `json:"template"`
	Scale      float64         `json:"scale"`
}

// TemplateMatcher 多尺度模板匹配
// 适用场景：同一 UI 元素在不同分辨率或 DPI 下大小略有变化
type TemplateMatcher struct {
	Threshold float64
	Scales    []float64
	// MaxResults 每个尺度最多返回的匹配数，<=0 时为 MaxResultCount
	MaxResults int
}

// FindAll 在 source 中查找模板的所有匹配，结果已去除重叠
func (m TemplateMatcher) FindAll(source, search gocv.Mat, name string) ([]Match, error) {
	if err := checkSourceLargerThanSearch(source, search); err != nil {
		return nil, err
	}

	srcGray := ToGray(source)
	searchGray := ToGray(search)
	defer srcGray.Close()
	defer searchGray.Close()

	scales := m.Scales
	if len(scales) == 0 {
		scales = []float64{1}
	}

	var all []Match
	for _, scale := range scales {
		all = append(all, m.matchScale(srcGray, searchGray, name, scale)...)
	}
	return FilterOverlapping(all, 0.5), nil
}

// matchScale 单个尺度下逐个取最大值，取到后屏蔽该位置附近
func (m TemplateMatcher) matchScale(source, search gocv.Mat, name string, scale float64) []Match {
	scaled := search
	if scale != 1 {
		scaled = gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(search, &scaled, image.Point{
			X: max(int(float64(search.Cols())*scale), 1),
			Y: max(int(float64(search.Rows())*scale), 1),
		}, 0, 0, gocv.InterpolationLinear)
	}
	if checkSourceLargerThanSearch(source, scaled) != nil {
		return nil
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(source, scaled, &result, gocv.TmCcoeffNormed, mask)

	limit := m.MaxResults
	if limit <= 0 {
		limit = MaxResultCount
	}

	w, h := scaled.Cols(), scaled.Rows()
	var out []Match
	for len(out) < limit {
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
		if float64(maxVal) < m.Threshold {
			break
		}
		out = append(out, Match{
			Rect:       image.Rect(maxLoc.X, maxLoc.Y, maxLoc.X+w, maxLoc.Y+h),
			Confidence: float64(maxVal),
			Template:   name,
			Scale:      scale,
		})

		// 屏蔽已匹配区域
		gocv.Rectangle(&result,
			image.Rect(maxLoc.X-w/2, maxLoc.Y-h/2, maxLoc.X+w/2+1, maxLoc.Y+h/2+1),
			color.RGBA{0, 0, 0, 255}, -1)
	}
	return out
}

// FilterOverlapping 按置信度从高到低保留，与已保留结果 IoU 超过 overlap 的丢弃
func FilterOverlapping(matches []Match, overlap float64) []Match {
	if len(matches) == 0 {
		return nil
	}
	sorted := append([]Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []Match
	for _, m := range sorted {
		keep := true
		for _, k := range kept {
			if IoU(m.Rect, k.Rect) > overlap {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, m)
		}
	}
	return kept
}

// IoU 两个矩形的交并比
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	i := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - i
	if union <= 0 {
		return 0
	}
	return float64(i) / float64(union)
}

// checkSourceLargerThanSearch 检查源图像是否大于搜索图像
func checkSourceLargerThanSearch(source, search gocv.Mat) error {
	if source.Rows() < search.Rows() || source.Cols() < search.Cols() {
		return &ImageSizeError{
			SourceSize: [2]int{source.Cols(), source.Rows()},
			SearchSize: [2]int{search.Cols(), search.Rows()},
		}
	}
	return nil
}

// ImageSizeError 图像尺寸错误
type ImageSizeError struct {
	SourceSize [2]int
	SearchSize [2]int
}

func (e *ImageSizeError) Error() string {
	return "搜索图像尺寸大于源图像"
}
