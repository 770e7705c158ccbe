package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Probeus/internal/domain/node"
	"github.com/NordCoder/Probeus/internal/domain/synthtest"
)

func nodes(ids ...int64) []*node.Node {
	out := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, &node.Node{ID: id})
	}
	return out
}

func TestTargetsSingleNode(t *testing.T) {
	ns := nodes(1, 2, 3)

	got := Targets(synthtest.TargetNode, 2, ns, nil)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)
}

func TestTargetsVanishedNode(t *testing.T) {
	got := Targets(synthtest.TargetNode, 9, nodes(1, 2), nil)
	require.Empty(t, got)
}

func TestTargetsGroupDropsDanglingMembers(t *testing.T) {
	ns := nodes(1, 3)
	gs := []*node.Group{{ID: 7, MemberIDs: []int64{1, 2, 3}}}

	got := Targets(synthtest.TargetGroup, 7, ns, gs)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID)
	require.Equal(t, int64(3), got[1].ID)
}

func TestTargetsGroupPreservesMemberOrder(t *testing.T) {
	ns := nodes(1, 2, 3)
	gs := []*node.Group{{ID: 7, MemberIDs: []int64{3, 1, 2}}}

	got := Targets(synthtest.TargetGroup, 7, ns, gs)
	require.Len(t, got, 3)
	require.Equal(t, int64(3), got[0].ID)
	require.Equal(t, int64(1), got[1].ID)
	require.Equal(t, int64(2), got[2].ID)
}

func TestTargetsVanishedGroup(t *testing.T) {
	got := Targets(synthtest.TargetGroup, 9, nodes(1), nil)
	require.Empty(t, got)
}

func TestTargetsUnknownType(t *testing.T) {
	got := Targets(synthtest.TargetType("cluster"), 1, nodes(1), nil)
	require.Empty(t, got)
}
