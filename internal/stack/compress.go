package stack

// CompressStack removes slots that can be recreated cheaply: slots the policy
// can generate freely and slots with a deeper copy that stays reachable by a
// dup. The result is a fixed point, compressing it again changes nothing.
func CompressStack(s Stack, p Policy) Stack {
	s = s.Clone()
	for {
		removable := -1
		for depth := 0; depth < len(s) && removable < 0; depth++ {
			offset := len(s) - 1 - depth
			slot := s[offset]
			if p.CanBeFreelyGenerated(slot) {
				removable = offset
				break
			}
			for dupDepth := 0; dupDepth < offset; dupDepth++ {
				if s[offset-1-dupDepth] == slot {
					if depth+dupDepth <= p.MaxDepth {
						removable = offset
					}
					break
				}
			}
		}
		if removable < 0 {
			return s
		}
		top := len(s) - 1
		s[removable], s[top] = s[top], s[removable]
		s = s[:top]
	}
}
