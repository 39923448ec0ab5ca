package preprocess

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/vision/cv"
)

// 缩放倍数限制
const (
	minScaleFactor = 0.25
	maxScaleFactor = 8.0
)

// 比最高字形矮于该比例的轮廓（标点、噪点）不参与字高估计
const glyphHeightRatio = 0.4

// AutoScale 将图像缩放到目标字高区间
// 零面积、估计不到字高或已在区间内时原样返回
func (p *Preprocessor) AutoScale(img image.Image) image.Image {
	if cv.IsDegenerate(img) {
		return img
	}

	src, err := cv.ImageToMat(img)
	if err != nil {
		return img
	}
	defer src.Close()

	height, ok := EstimateTextHeight(src)
	if !ok || p.band.Contains(height) {
		return img
	}

	factor := p.band.Target() / float64(height)
	out := scaleMat(src, factor)
	if out == nil {
		return img
	}
	logger.Debug("自动缩放: 字高 %dpx, 倍数 %.2f", height, clampFactor(factor))
	return out
}

// Scale 按固定倍数缩放，factor 为 0 或 1 时原样返回
func (p *Preprocessor) Scale(img image.Image, factor float64) image.Image {
	if factor <= 0 || factor == 1 || cv.IsDegenerate(img) {
		return img
	}

	src, err := cv.ImageToMat(img)
	if err != nil {
		return img
	}
	defer src.Close()

	if out := scaleMat(src, factor); out != nil {
		return out
	}
	return img
}

func clampFactor(f float64) float64 {
	if f < minScaleFactor {
		return minScaleFactor
	}
	if f > maxScaleFactor {
		return maxScaleFactor
	}
	return f
}

func scaleMat(src gocv.Mat, factor float64) image.Image {
	scaled := cv.ScaleImage(src, clampFactor(factor))
	defer scaled.Close()

	out, err := cv.MatToImage(scaled)
	if err != nil {
		return nil
	}
	return out
}

// EstimateTextHeight 估计字形高度（像素）
// Otsu 二值化后取外轮廓，文字按少数像素处理；返回较高轮廓高度的中位数
func EstimateTextHeight(src gocv.Mat) (int, bool) {
	if src.Empty() || src.Rows() < minSide || src.Cols() < minSide {
		return 0, false
	}

	gray := cv.ToGray(src)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// 文字应为前景（白），白色占多数时反转
	total := binary.Rows() * binary.Cols()
	if gocv.CountNonZero(binary)*2 > total {
		gocv.BitwiseNot(binary, &binary)
	}

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var heights []int
	maxH := 0
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if r.Dx()*r.Dy() < 4 || r.Dy() < 2 {
			continue
		}
		heights = append(heights, r.Dy())
		if r.Dy() > maxH {
			maxH = r.Dy()
		}
	}
	if len(heights) == 0 {
		return 0, false
	}

	var glyphs []int
	for _, h := range heights {
		if float64(h) >= float64(maxH)*glyphHeightRatio {
			glyphs = append(glyphs, h)
		}
	}
	sort.Ints(glyphs)
	return glyphs[len(glyphs)/2], true
}
