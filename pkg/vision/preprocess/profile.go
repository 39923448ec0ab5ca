package preprocess

import "github.com/zoeyai/zoeyreader/internal/logger"

// DefaultProfile 默认预处理参数名
const DefaultProfile = "default"

// Profile 预处理参数
// 变体集合固定，Profile 只调整各变体内部的参数
type Profile struct {
	Name string

	ContrastAlpha float64
	ContrastBeta  float64

	BinaryBlock int
	BinaryC     float32

	BoostAlpha float64
	BoostBeta  float64
	BoostBlock int
	BoostC     float32

	InvertBlock int
	InvertC     float32

	Median int
}

var profiles = map[string]Profile{
	DefaultProfile: {
		Name:          DefaultProfile,
		ContrastAlpha: 1.3, ContrastBeta: 20,
		BinaryBlock: 11, BinaryC: 2,
		BoostAlpha: 1.8, BoostBeta: 30, BoostBlock: 11, BoostC: 2,
		InvertBlock: 15, InvertC: 4,
		Median: 3,
	},
	// 低对比度的灰色小字
	"dim-text": {
		Name:          "dim-text",
		ContrastAlpha: 1.8, ContrastBeta: 35,
		BinaryBlock: 15, BinaryC: 3,
		BoostAlpha: 2.4, BoostBeta: 40, BoostBlock: 15, BoostC: 3,
		InvertBlock: 17, InvertC: 5,
		Median: 3,
	},
	// 大号、边缘清晰的数字
	"sharp-digits": {
		Name:          "sharp-digits",
		ContrastAlpha: 1.1, ContrastBeta: 10,
		BinaryBlock: 21, BinaryC: 4,
		BoostAlpha: 1.4, BoostBeta: 15, BoostBlock: 21, BoostC: 4,
		InvertBlock: 21, InvertC: 6,
		Median: 1,
	},
}

// LookupProfile 按名称查找参数，未知名称回退为默认参数
func LookupProfile(name string) Profile {
	if name == "" {
		return profiles[DefaultProfile]
	}
	if p, ok := profiles[name]; ok {
		return p
	}
	logger.WarnOnce("profile:"+name, "未知的预处理参数 %s, 使用默认参数", name)
	return profiles[DefaultProfile]
}

// ProfileNames 返回已注册的参数名
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}
