// Package template 定义 ROI 模板：按分辨率分组的区域、导航步骤与阶段计划
package template

import (
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// CustomResolution 没有精确分辨率匹配时使用的兜底集合
const CustomResolution = "custom"

// PhaseCount 每个会话固定的阶段数
const PhaseCount = 3

var (
	// ErrTemplateMissing 模板文件不存在
	ErrTemplateMissing = errors.New("模板文件不存在")
	// ErrNoResolution 没有匹配的分辨率且没有 custom 集合
	ErrNoResolution = errors.New("没有匹配的分辨率模板")
)

// ROI 类型
const (
	KindValue      = "value"
	KindAdjustment = "adjustment"
	// KindActionCard 行动卡面板，面板内的卡片由模板图片定位
	KindActionCard = "action_card"
)

// Rect 相对坐标矩形，各分量在 [0,1]
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Valid 检查矩形是否位于单位区域内且面积非零
func (r Rect) Valid() bool {
	for _, v := range []float64{r.X, r.Y, r.W, r.H} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return r.W > 0 && r.H > 0 && r.X+r.W <= 1+1e-9 && r.Y+r.H <= 1+1e-9
}

// Absolute 换算为画面上的绝对像素矩形
// bounds 为显示器或游戏窗口客户区的全局矩形，padding 向四周扩展后裁剪到 bounds 内
func (r Rect) Absolute(bounds image.Rectangle, padding int) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	abs := image.Rect(
		bounds.Min.X+int(math.Round(r.X*w)),
		bounds.Min.Y+int(math.Round(r.Y*h)),
		bounds.Min.X+int(math.Round((r.X+r.W)*w)),
		bounds.Min.Y+int(math.Round((r.Y+r.H)*h)),
	)
	if padding > 0 {
		abs = abs.Inset(-padding)
	}
	return abs.Intersect(bounds)
}

// Center 矩形中心的绝对像素坐标
func (r Rect) Center(bounds image.Rectangle) image.Point {
	return image.Point{
		X: bounds.Min.X + int(math.Round((r.X+r.W/2)*float64(bounds.Dx()))),
		Y: bounds.Min.Y + int(math.Round((r.Y+r.H/2)*float64(bounds.Dy()))),
	}
}

// ROI 区域定义，会话内只读
type ROI struct {
	ID        string   `json:"id" yaml:"id"`
	Rect      Rect     `json:"rect" yaml:"rect"`
	Profile   string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	AutoScale bool     `json:"auto_scale" yaml:"auto_scale"`
	Kind      string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Charset   string   `json:"charset,omitempty" yaml:"charset,omitempty"`
	Padding   int      `json:"padding,omitempty" yaml:"padding,omitempty"`
	Scale     float64  `json:"scale,omitempty" yaml:"scale,omitempty"`
	Engines   []string `json:"engines,omitempty" yaml:"engines,omitempty"`
	Expected  []string `json:"expected,omitempty" yaml:"expected,omitempty"`
	// Cards 行动卡面板的卡片布局，仅 action_card 类型使用
	Cards *CardLayout `json:"cards,omitempty" yaml:"cards,omitempty"`
}

// IsAdjustment 是否为带颜色符号的增减量区域
func (r *ROI) IsAdjustment() bool {
	return r.Kind == KindAdjustment
}

// IsActionCard 是否为行动卡面板
func (r *ROI) IsActionCard() bool {
	return r.Kind == KindActionCard
}

// 行动卡默认值
const (
	DefaultCardThreshold = 0.92
	DefaultMaxCards      = 24
)

// DefaultCardScales 卡片模板的默认缩放比例
var DefaultCardScales = []float64{0.9, 1.0, 1.1}

// CardLayout 行动卡布局：先在面板内按模板图片找到每张卡，再按卡内相对矩形读取字段
type CardLayout struct {
	// Templates 卡片模板图片，相对路径以模板文件所在目录为准
	// 文件名含 locked 且不含 unlocked 的视为锁定卡
	Templates []string  `json:"templates" yaml:"templates"`
	Threshold float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Scales    []float64 `json:"scales,omitempty" yaml:"scales,omitempty"`
	MaxCards  int       `json:"max_cards,omitempty" yaml:"max_cards,omitempty"`
	// Fields 卡内字段，为空时使用 DefaultCardFields
	Fields []CardField `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Lock 锁图标位置，红色像素占比超过 15% 视为锁定；为空时以模板文件名为准
	Lock *Rect `json:"lock,omitempty" yaml:"lock,omitempty"`
}

// CardField 卡内的一个识别字段，Rect 相对于卡片
type CardField struct {
	Name     string   `json:"name" yaml:"name"`
	Rect     Rect     `json:"rect" yaml:"rect"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Charset  string   `json:"charset,omitempty" yaml:"charset,omitempty"`
	Profile  string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	Scale    float64  `json:"scale,omitempty" yaml:"scale,omitempty"`
	Expected []string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// 默认字段名
const (
	CardFieldFrom   = "from"
	CardFieldTo     = "to"
	CardFieldLight  = "light"
	CardFieldHeavy  = "heavy"
	CardFieldRanged = "ranged"
)

// DefaultCardFields 出发/目标基地和三种兵力数量
var DefaultCardFields = []CardField{
	{Name: CardFieldFrom, Rect: Rect{X: 0.05, Y: 0.15, W: 0.35, H: 0.25}, Pattern: "Blue,Red(number)", Charset: "BlueRd123 "},
	{Name: CardFieldTo, Rect: Rect{X: 0.55, Y: 0.15, W: 0.35, H: 0.25}, Pattern: "Blue,Red(number)", Charset: "BlueRd123 "},
	{Name: CardFieldLight, Rect: Rect{X: 0.12, Y: 0.65, W: 0.15, H: 0.20}, Pattern: "(number)", Charset: "0123456789"},
	{Name: CardFieldHeavy, Rect: Rect{X: 0.42, Y: 0.65, W: 0.15, H: 0.20}, Pattern: "(number)", Charset: "0123456789"},
	{Name: CardFieldRanged, Rect: Rect{X: 0.72, Y: 0.65, W: 0.15, H: 0.20}, Pattern: "(number)", Charset: "0123456789"},
}

// FieldList 实际使用的字段
func (l *CardLayout) FieldList() []CardField {
	if len(l.Fields) == 0 {
		return DefaultCardFields
	}
	return l.Fields
}

// FieldROI 卡片字段对应的区域定义，ID 为 面板ID.字段名
func (l *CardLayout) FieldROI(panel *ROI, f CardField) ROI {
	return ROI{
		ID:       panel.ID + "." + f.Name,
		Rect:     f.Rect,
		Profile:  f.Profile,
		Pattern:  f.Pattern,
		Charset:  f.Charset,
		Scale:    f.Scale,
		Engines:  panel.Engines,
		Expected: f.Expected,
	}
}

// CardEntryID 第 index 张卡（从 1 开始）某字段的结果 ID，如 actions#2.light
func CardEntryID(panel string, index int, field string) string {
	return fmt.Sprintf("%s#%d.%s", panel, index, field)
}

// SplitCardEntryID 拆分 CardEntryID
func SplitCardEntryID(id string) (panel string, index int, field string, ok bool) {
	hash := strings.LastIndexByte(id, '#')
	if hash <= 0 {
		return "", 0, "", false
	}
	rest := id[hash+1:]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(rest[:dot])
	if err != nil || n < 1 {
		return "", 0, "", false
	}
	return id[:hash], n, rest[dot+1:], true
}

// LockedByName 按模板文件名判断锁定卡
func LockedByName(name string) bool {
	name = strings.ToLower(filepath.Base(name))
	return strings.Contains(name, "locked") && !strings.Contains(name, "unlocked")
}

// Collection 某个分辨率下的有序 ROI 集合
type Collection struct {
	ROIs []ROI `json:"rois" yaml:"rois"`
}

// Get 按 ID 查找 ROI
func (c *Collection) Get(id string) (*ROI, bool) {
	for i := range c.ROIs {
		if c.ROIs[i].ID == id {
			return &c.ROIs[i], true
		}
	}
	return nil, false
}

// IDs 按声明顺序返回所有 ROI ID
func (c *Collection) IDs() []string {
	ids := make([]string, len(c.ROIs))
	for i, roi := range c.ROIs {
		ids[i] = roi.ID
	}
	return ids
}

// 导航动作
const (
	ActionClick = "click"
	ActionKey   = "key"
	ActionWait  = "wait"
)

// Point 相对坐标点
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NavStep 导航的一个步骤
type NavStep struct {
	Action    string   `json:"action" yaml:"action"`
	Target    string   `json:"target,omitempty" yaml:"target,omitempty"`
	Point     *Point   `json:"point,omitempty" yaml:"point,omitempty"`
	Key       string   `json:"key,omitempty" yaml:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
	DelayMs   int      `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// PhasePlan 单个阶段要导航到的位置和采集的 ROI，ROIs 为空表示全部
type PhasePlan struct {
	Number   int      `json:"number" yaml:"number"`
	Location string   `json:"location" yaml:"location"`
	ROIs     []string `json:"rois,omitempty" yaml:"rois,omitempty"`
}

// File 模板文件
type File struct {
	Version     int                    `json:"version" yaml:"version"`
	Resolutions map[string]*Collection `json:"resolutions" yaml:"resolutions"`
	Navigation  map[string][]NavStep   `json:"navigation,omitempty" yaml:"navigation,omitempty"`
	Phases      []PhasePlan            `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// ResolutionTag 生成分辨率标签，如 2560x1440
func ResolutionTag(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// Select 按分辨率选择集合，没有精确匹配时使用 custom
// 返回实际使用的标签
func (f *File) Select(tag string) (*Collection, string, error) {
	if c, ok := f.Resolutions[tag]; ok && c != nil {
		return c, tag, nil
	}
	if c, ok := f.Resolutions[CustomResolution]; ok && c != nil {
		return c, CustomResolution, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNoResolution, tag)
}

// PhasePlans 返回阶段计划，未配置时为 phase1..phase3 的全量计划
func (f *File) PhasePlans() []PhasePlan {
	if len(f.Phases) > 0 {
		return f.Phases
	}
	plans := make([]PhasePlan, PhaseCount)
	for i := range plans {
		plans[i] = PhasePlan{Number: i + 1, Location: fmt.Sprintf("phase%d", i+1)}
	}
	return plans
}

// Validate 检查模板结构
func (f *File) Validate() error {
	if len(f.Resolutions) == 0 {
		return errors.New("模板没有任何分辨率集合")
	}

	for tag, c := range f.Resolutions {
		if c == nil {
			return fmt.Errorf("分辨率 %s 的集合为空", tag)
		}
		seen := make(map[string]struct{}, len(c.ROIs))
		for _, roi := range c.ROIs {
			if strings.TrimSpace(roi.ID) == "" {
				return fmt.Errorf("分辨率 %s 存在空 ID 的 ROI", tag)
			}
			if _, dup := seen[roi.ID]; dup {
				return fmt.Errorf("分辨率 %s 中 ROI ID 重复: %s", tag, roi.ID)
			}
			seen[roi.ID] = struct{}{}
			if !roi.Rect.Valid() {
				return fmt.Errorf("ROI %s 的相对坐标越界: %+v", roi.ID, roi.Rect)
			}
			switch roi.Kind {
			case "", KindValue, KindAdjustment:
			case KindActionCard:
				if err := roi.Cards.validate(roi.ID); err != nil {
					return err
				}
			default:
				return fmt.Errorf("ROI %s 类型未知: %s", roi.ID, roi.Kind)
			}
			if strings.ContainsAny(roi.ID, "#.") {
				return fmt.Errorf("ROI ID 不能包含 # 或 .: %s", roi.ID)
			}
			if roi.Scale < 0 || roi.Padding < 0 {
				return fmt.Errorf("ROI %s 的缩放或边距为负", roi.ID)
			}
		}

		for _, plan := range f.Phases {
			for _, id := range plan.ROIs {
				if _, ok := seen[id]; !ok {
					return fmt.Errorf("阶段 %d 引用了分辨率 %s 中不存在的 ROI: %s", plan.Number, tag, id)
				}
			}
		}
	}

	if len(f.Phases) > 0 {
		if len(f.Phases) != PhaseCount {
			return fmt.Errorf("阶段计划数量应为 %d, 实际为 %d", PhaseCount, len(f.Phases))
		}
		for i, plan := range f.Phases {
			if plan.Number != i+1 {
				return fmt.Errorf("阶段编号应连续递增, 第 %d 项为 %d", i+1, plan.Number)
			}
			if plan.Location == "" {
				return fmt.Errorf("阶段 %d 未指定导航位置", plan.Number)
			}
		}
	}

	for loc, steps := range f.Navigation {
		for i, step := range steps {
			switch step.Action {
			case ActionClick:
				if step.Target == "" && step.Point == nil {
					return fmt.Errorf("导航 %s 第 %d 步缺少点击目标", loc, i+1)
				}
			case ActionKey:
				if step.Key == "" {
					return fmt.Errorf("导航 %s 第 %d 步缺少按键", loc, i+1)
				}
			case ActionWait:
			default:
				return fmt.Errorf("导航 %s 第 %d 步动作未知: %s", loc, i+1, step.Action)
			}
		}
	}

	return nil
}

func (l *CardLayout) validate(id string) error {
	if l == nil || len(l.Templates) == 0 {
		return fmt.Errorf("行动卡面板 %s 没有卡片模板", id)
	}
	if l.Threshold < 0 || l.Threshold > 1 || l.MaxCards < 0 {
		return fmt.Errorf("行动卡面板 %s 的阈值或数量无效", id)
	}
	if l.Lock != nil && !l.Lock.Valid() {
		return fmt.Errorf("行动卡面板 %s 的锁图标位置越界", id)
	}
	names := make(map[string]struct{})
	for _, f := range l.FieldList() {
		if f.Name == "" || strings.ContainsAny(f.Name, "#.") {
			return fmt.Errorf("行动卡面板 %s 的字段名无效: %q", id, f.Name)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("行动卡面板 %s 的字段重复: %s", id, f.Name)
		}
		names[f.Name] = struct{}{}
		if !f.Rect.Valid() {
			return fmt.Errorf("行动卡字段 %s.%s 的相对坐标越界", id, f.Name)
		}
	}
	return nil
}

// ResolveCardTemplates 将卡片模板的相对路径换算为以 dir 为基准
func (f *File) ResolveCardTemplates(dir string) {
	for _, c := range f.Resolutions {
		if c == nil {
			continue
		}
		for i := range c.ROIs {
			l := c.ROIs[i].Cards
			if l == nil {
				continue
			}
			for j, p := range l.Templates {
				if p != "" && !filepath.IsAbs(p) {
					l.Templates[j] = filepath.Join(dir, p)
				}
			}
		}
	}
}
