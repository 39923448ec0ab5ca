package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/template"
)

// 导出方式：有存档行动时为 enriched，否则为 simple
const (
	ExportSimple   = "simple"
	ExportEnriched = "enriched"
)

// baseNames 存档中 From/To 索引对应的基地名
var baseNames = map[int]string{0: "Blue", 1: "Red1", 2: "Red2", 3: "Red3"}

// Allocation 一条兵力调配行动
type Allocation struct {
	ID     int    `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Light  int    `json:"L"`
	Heavy  int    `json:"H"`
	Ranged int    `json:"R"`
	Locked bool   `json:"locked"`
}

// rawAllocation 存档原始字段，指针用于区分缺失和零值
type rawAllocation struct {
	ID     any   `json:"Id"`
	Phase  *int  `json:"Phase"`
	From   *int  `json:"From"`
	To     *int  `json:"To"`
	Light  *int  `json:"Light"`
	Heavy  *int  `json:"Heavy"`
	Ranged *int  `json:"Ranged"`
	Locked *bool `json:"Locked"`
}

func (r rawAllocation) complete() bool {
	return r.Phase != nil && r.From != nil && r.To != nil &&
		r.Light != nil && r.Heavy != nil && r.Ranged != nil && r.Locked != nil
}

// Actions 按阶段分组的行动，阶段 1..PhaseCount 总是存在
type Actions map[int][]Allocation

// Counts 各阶段行动数
func (a Actions) Counts() map[int]int {
	out := make(map[int]int, len(a))
	for p, list := range a {
		out[p] = len(list)
	}
	return out
}

// Total 行动总数
func (a Actions) Total() int {
	n := 0
	for _, list := range a {
		n += len(list)
	}
	return n
}

// LoadSaveState 读取存档文件，文件不存在时返回 os.ErrNotExist
func LoadSaveState(path string) (Actions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("存档不存在: %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("读取存档失败: %w", err)
	}
	return ParseSaveState(data)
}

// ParseSaveState 解析存档中的 Allocations
// 只保留阶段 1..PhaseCount 的完整记录，ID 按阶段顺序从 1 连续编号
func ParseSaveState(data []byte) (Actions, error) {
	var doc struct {
		Allocations []rawAllocation `json:"Allocations"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("存档格式错误: %w", err)
	}
	if len(doc.Allocations) == 0 {
		return nil, errors.New("存档中没有行动")
	}

	valid := make([]rawAllocation, 0, len(doc.Allocations))
	for _, a := range doc.Allocations {
		if !a.complete() {
			logger.Warn("跳过字段不全的行动: %v", a.ID)
			continue
		}
		if *a.Phase < 1 || *a.Phase > template.PhaseCount {
			continue
		}
		if _, ok := baseNames[*a.From]; !ok {
			logger.Warn("跳过基地无效的行动: From=%d, To=%d", *a.From, *a.To)
			continue
		}
		if _, ok := baseNames[*a.To]; !ok {
			logger.Warn("跳过基地无效的行动: From=%d, To=%d", *a.From, *a.To)
			continue
		}
		valid = append(valid, a)
	}
	if skipped := len(doc.Allocations) - len(valid); skipped > 0 {
		logger.Info("存档中 %d 条行动被过滤", skipped)
	}

	// 同一阶段内保持原顺序
	sort.SliceStable(valid, func(i, j int) bool { return *valid[i].Phase < *valid[j].Phase })

	actions := make(Actions, template.PhaseCount)
	for p := 1; p <= template.PhaseCount; p++ {
		actions[p] = []Allocation{}
	}
	for i, a := range valid {
		actions[*a.Phase] = append(actions[*a.Phase], Allocation{
			ID:     i + 1,
			From:   baseNames[*a.From],
			To:     baseNames[*a.To],
			Light:  *a.Light,
			Heavy:  *a.Heavy,
			Ranged: *a.Ranged,
			Locked: *a.Locked,
		})
	}
	logger.Info("存档解析完成: %d 条行动", len(valid))
	return actions, nil
}
