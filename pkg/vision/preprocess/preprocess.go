// Package preprocess 为识别生成固定顺序的图像变体，并负责字高自动缩放
package preprocess

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// 变体名称，顺序即声明顺序
const (
	VariantRaw       = "raw"
	VariantEnhanced  = "enhanced"
	VariantBinary    = "binary"
	VariantGreyBoost = "grey-boost"
	VariantInverted  = "inverted"
)

var variantOrder = []string{
	VariantRaw,
	VariantEnhanced,
	VariantBinary,
	VariantGreyBoost,
	VariantInverted,
}

// VariantNames 返回固定的变体名称列表
func VariantNames() []string {
	names := make([]string, len(variantOrder))
	copy(names, variantOrder)
	return names
}

// minSide 小于该边长的图像不做滤波，直接使用原图
const minSide = 3

// Variant 一个预处理变体
type Variant struct {
	Name  string
	Index int
	Image image.Image
}

// Band 目标字高区间（像素）
type Band struct {
	Min int
	Max int
}

// Target 区间中点
func (b Band) Target() float64 {
	return float64(b.Min+b.Max) / 2
}

// Contains 字高是否已落在区间内
func (b Band) Contains(h int) bool {
	return h >= b.Min && h <= b.Max
}

// Preprocessor 预处理器，无状态，可并发使用
type Preprocessor struct {
	band Band
}

// New 创建预处理器
func New(band Band) *Preprocessor {
	if band.Min < 1 {
		band.Min = 1
	}
	if band.Max < band.Min {
		band.Max = band.Min
	}
	return &Preprocessor{band: band}
}

// Band 返回目标字高区间
func (p *Preprocessor) Band() Band {
	return p.band
}

type transform func(src gocv.Mat, prof Profile) gocv.Mat

var transforms = map[string]transform{
	VariantEnhanced:  enhance,
	VariantBinary:    binarize,
	VariantGreyBoost: greyBoost,
	VariantInverted:  invert,
}

// Variants 生成全部变体
// 任何情况下都返回相同名称和顺序的变体；零面积或过小的图像全部退化为原图
func (p *Preprocessor) Variants(img image.Image, prof Profile) []Variant {
	out := make([]Variant, len(variantOrder))
	for i, name := range variantOrder {
		out[i] = Variant{Name: name, Index: i, Image: img}
	}

	if cv.IsDegenerate(img) {
		return out
	}
	b := img.Bounds()
	if b.Dx() < minSide || b.Dy() < minSide {
		return out
	}

	src, err := cv.ImageToMat(img)
	if err != nil {
		logger.Warn("预处理转换失败, 使用原图: %v", err)
		return out
	}
	defer src.Close()

	for i, name := range variantOrder {
		fn, ok := transforms[name]
		if !ok {
			continue
		}
		mat := fn(src, prof)
		res, err := cv.MatToImage(mat)
		mat.Close()
		if err != nil {
			logger.Warn("变体 %s 生成失败, 使用原图: %v", name, err)
			continue
		}
		out[i].Image = res
	}
	return out
}

// enhance 对比度/亮度增强后转灰度并中值滤波
func enhance(src gocv.Mat, prof Profile) gocv.Mat {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.ConvertScaleAbs(src, &scaled, prof.ContrastAlpha, prof.ContrastBeta)

	gray := cv.ToGray(scaled)
	defer gray.Close()

	dst := gocv.NewMat()
	gocv.MedianBlur(gray, &dst, prof.Median)
	return dst
}

// binarize 中值滤波后自适应均值阈值
func binarize(src gocv.Mat, prof Profile) gocv.Mat {
	gray := cv.ToGray(src)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(gray, &blurred, prof.Median)

	dst := gocv.NewMat()
	gocv.AdaptiveThreshold(blurred, &dst, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, prof.BinaryBlock, prof.BinaryC)
	return dst
}

// greyBoost 拉伸灰度后自适应高斯阈值，适合灰色小字
func greyBoost(src gocv.Mat, prof Profile) gocv.Mat {
	gray := cv.ToGray(src)
	defer gray.Close()

	boosted := gocv.NewMat()
	defer boosted.Close()
	gocv.ConvertScaleAbs(gray, &boosted, prof.BoostAlpha, prof.BoostBeta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(boosted, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, prof.BoostBlock, prof.BoostC)

	dst := gocv.NewMat()
	gocv.MedianBlur(thresh, &dst, prof.Median)
	return dst
}

// invert 反色后阈值化并闭运算，适合深色背景上的亮字
func invert(src gocv.Mat, prof Profile) gocv.Mat {
	gray := cv.ToGray(src)
	defer gray.Close()

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(gray, &inverted)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.MedianBlur(inverted, &blurred, prof.Median)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(blurred, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, prof.InvertBlock, prof.InvertC)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 2, Y: 2})
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(thresh, &closed, gocv.MorphClose, kernel)

	dst := gocv.NewMat()
	gocv.Dilate(closed, &dst, kernel)
	return dst
}
