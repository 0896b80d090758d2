package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

// SpawnNode is the render model for one spawn in the caller tree.
type SpawnNode struct {
	Ref    string // short spawn id
	Label  string // "handle status" plus any summary fragment
	Parent string // short id of the caller spawn, empty for roots
}

// BuildSpawnTree nests spawns under their callers. Orphans whose caller
// is not in the set render as roots.
func BuildSpawnTree(nodes []SpawnNode) *tree.Tree {
	if len(nodes) == 0 {
		return nil
	}

	t := tree.New().Root("spawns")
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorMuted))
	t.RootStyle(lipgloss.NewStyle().Bold(true).Foreground(ColorAccent))

	byRef := make(map[string]*tree.Tree, len(nodes))
	for _, n := range nodes {
		byRef[n.Ref] = tree.New().Root(RenderAccent(n.Ref) + " " + n.Label)
	}
	for _, n := range nodes {
		child := byRef[n.Ref]
		if parent, ok := byRef[n.Parent]; ok && n.Parent != n.Ref {
			parent.Child(child)
			continue
		}
		t.Child(child)
	}
	return t
}
