package scheduler

import (
	"sort"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]TriggerInfo, 0, len(s.triggers))
	for _, t := range s.triggers {
		it := TriggerInfo{ID: t.id, FireAt: t.fireAt, Spec: t.spec}
		for id := range t.users {
			it.Users = append(it.Users, id)
		}
		sort.Strings(it.Users)
		if s.c != nil && t.entryID != 0 {
			it.Next = s.c.Entry(t.entryID).Next
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].FireAt.Equal(items[j].FireAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].FireAt.Before(items[j].FireAt)
	})
	return Snapshot{
		Running:  s.c != nil,
		Timezone: s.loc.String(),
		Triggers: items,
	}
}
