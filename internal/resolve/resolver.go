// Package resolve expands a test's target into concrete probe nodes.
package resolve

import (
	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
)

// Targets maps (targetType, targetID) over a registry snapshot to an
// ordered node list. A vanished node or group yields an empty list, and
// group members that no longer resolve are dropped in place; dangling
// references are expected and never abort resolution.
func Targets(tt synthtest.TargetType, targetID int64, nodes []*node.Node, groups []*node.Group) []*node.Node {
	byID := make(map[int64]*node.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	switch tt {
	case synthtest.TargetNode:
		if n, ok := byID[targetID]; ok {
			return []*node.Node{n}
		}
		return nil
	case synthtest.TargetGroup:
		var g *node.Group
		for _, cand := range groups {
			if cand.ID == targetID {
				g = cand
				break
			}
		}
		if g == nil {
			return nil
		}
		var out []*node.Node
		for _, id := range g.MemberIDs {
			if n, ok := byID[id]; ok {
				out = append(out, n)
			}
		}
		return out
	default:
		return nil
	}
}
