package preprocess

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// Sign 增减量区域的颜色符号
type Sign int

const (
	SignNone Sign = iota
	SignNegative
	SignPositive
)

// Prefix 符号对应的文本前缀
func (s Sign) Prefix() string {
	switch s {
	case SignNegative:
		return "-"
	case SignPositive:
		return "+"
	default:
		return ""
	}
}

// ColourStats 红色和绿色像素计数
type ColourStats struct {
	Red   int
	Green int
}

// BGR 阈值：红 R>150,G<100,B<100；绿 G>150,R<100,B<100
var (
	redLower   = gocv.NewScalar(0, 0, 151, 0)
	redUpper   = gocv.NewScalar(99, 99, 255, 0)
	greenLower = gocv.NewScalar(0, 151, 0, 0)
	greenUpper = gocv.NewScalar(99, 255, 99, 0)
)

// AnalyzeColour 统计图像中的红色和绿色像素
func AnalyzeColour(img image.Image) (ColourStats, error) {
	if cv.IsDegenerate(img) {
		return ColourStats{}, nil
	}

	src, err := cv.ImageToMat(img)
	if err != nil {
		return ColourStats{}, err
	}
	defer src.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	var stats ColourStats
	gocv.InRangeWithScalar(src, redLower, redUpper, &mask)
	stats.Red = gocv.CountNonZero(mask)
	gocv.InRangeWithScalar(src, greenLower, greenUpper, &mask)
	stats.Green = gocv.CountNonZero(mask)
	return stats, nil
}

// Sign 根据像素数判断符号，任一颜色不少于 minPixels 才视为有内容
func (s ColourStats) Sign(minPixels int) (Sign, bool) {
	if s.Red < minPixels && s.Green < minPixels {
		return SignNone, false
	}
	if s.Red > s.Green {
		return SignNegative, true
	}
	return SignPositive, true
}
