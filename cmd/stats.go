package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/nagi/asset/scene"
	"github.com/olekukonko/tablewriter"
)

func displayBvhStats(sc *scene.Scene) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Hierarchy", "Root", "Nodes", "Leaves", "Items", "Depth"})

	appendRow := func(name string, root uint32, stats scene.HierarchyStats) {
		table.Append([]string{
			name,
			fmt.Sprintf("%d", root),
			fmt.Sprintf("%d", stats.Nodes),
			fmt.Sprintf("%d", stats.Leaves),
			fmt.Sprintf("%d", stats.Primitives),
			fmt.Sprintf("%d", stats.MaxDepth),
		})
	}

	var total int
	for meshIndex, root := range sc.BlasStartOffsets {
		// Meshes without primitives share their offset with the next block
		next := sc.TlasStartOffset
		if meshIndex+1 < len(sc.BlasStartOffsets) {
			next = sc.BlasStartOffsets[meshIndex+1]
		}
		if root == next {
			continue
		}
		stats := sc.HierarchyStats(root)
		total += stats.Nodes
		appendRow(fmt.Sprintf("BLAS %d", meshIndex), root, stats)
	}
	if sc.TlasRoot() != nil {
		stats := sc.HierarchyStats(sc.TlasStartOffset)
		total += stats.Nodes
		appendRow("TLAS", sc.TlasStartOffset, stats)
	}
	table.SetFooter([]string{"", "", fmt.Sprintf("%d", total), "", "", ""})

	table.Render()
	logger.Noticef("BVH statistics\n%s", buf.String())
}
