package state

import (
	"github.com/zoeyai/zoeyreader/internal/logger"
	"github.com/zoeyai/zoeyreader/pkg/pipeline"
	"github.com/zoeyai/zoeyreader/pkg/template"
)

// CardAllocations 将快照中行动卡的字段结果组合为兵力调配
// 出发或目标基地读不出的卡片跳过，读不出的兵力数记为 0
func CardAllocations(s *pipeline.Snapshot) []Allocation {
	if s == nil || len(s.Cards) == 0 {
		return nil
	}

	var out []Allocation
	for _, panel := range s.Order {
		for _, c := range s.Cards[panel] {
			from, okFrom := cardBase(s, panel, c.Index, template.CardFieldFrom)
			to, okTo := cardBase(s, panel, c.Index, template.CardFieldTo)
			if !okFrom || !okTo {
				logger.Debug("阶段 %d %s 第 %d 张卡基地无法识别", s.Phase, panel, c.Index)
				continue
			}
			out = append(out, Allocation{
				ID:     len(out) + 1,
				From:   from,
				To:     to,
				Light:  cardCount(s, panel, c.Index, template.CardFieldLight),
				Heavy:  cardCount(s, panel, c.Index, template.CardFieldHeavy),
				Ranged: cardCount(s, panel, c.Index, template.CardFieldRanged),
				Locked: c.Locked,
			})
		}
	}
	return out
}

func cardBase(s *pipeline.Snapshot, panel string, index int, field string) (string, bool) {
	res, ok := s.Get(template.CardEntryID(panel, index, field))
	if !ok || res.Unresolved() || res.Winner.Value == nil {
		return "", false
	}
	name := res.Winner.Value.Text
	for _, b := range baseNames {
		if b == name {
			return name, true
		}
	}
	return "", false
}

func cardCount(s *pipeline.Snapshot, panel string, index int, field string) int {
	res, ok := s.Get(template.CardEntryID(panel, index, field))
	if !ok || res.Unresolved() || res.Winner.Value == nil || len(res.Winner.Value.Numbers) == 0 {
		return 0
	}
	return res.Winner.Value.Numbers[0]
}
