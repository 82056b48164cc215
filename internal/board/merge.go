package board

import (
	"sort"
	"strings"
)

// backlogColumnID is the column that collects tasks left unplaced after the
// column layout is rebuilt from the remote side.
const backlogColumnID = "backlog"

// mergeBoards combines two forks of the same board:
//
//   - tasks: per task ID, the copy with the later UpdatedAt wins; on a tie
//     the local copy is kept;
//   - columns: rebuilt from the remote layout, filtered to task IDs that
//     survive the merge;
//   - orphans: merged tasks placed in no column are appended to the backlog
//     column when one exists.
func mergeBoards(local, remote *Board) *Board {
	merged := &Board{
		ID:    local.ID,
		Tasks: make(map[string]Task, len(local.Tasks)+len(remote.Tasks)),
	}

	for id, task := range local.Tasks {
		merged.Tasks[id] = task
	}
	for id, task := range remote.Tasks {
		if existing, ok := merged.Tasks[id]; ok {
			if task.UpdatedAt.After(existing.UpdatedAt) {
				merged.Tasks[id] = task
			}
			continue
		}
		merged.Tasks[id] = task
	}

	// Rebuild columns from the remote layout, dropping task IDs that did not
	// survive the merge.
	placed := make(map[string]bool, len(merged.Tasks))
	merged.Columns = make([]Column, 0, len(remote.Columns))
	for _, col := range remote.Columns {
		kept := Column{ID: col.ID, Title: col.Title, TaskIDs: make([]string, 0, len(col.TaskIDs))}
		for _, id := range col.TaskIDs {
			if _, ok := merged.Tasks[id]; !ok {
				continue
			}
			kept.TaskIDs = append(kept.TaskIDs, id)
			placed[id] = true
		}
		merged.Columns = append(merged.Columns, kept)
	}

	// Sweep orphaned tasks into the backlog, preserving the local column
	// order so the sweep is deterministic.
	if backlog := findBacklog(merged.Columns); backlog != nil {
		for _, id := range orphanOrder(local, merged.Tasks, placed) {
			backlog.TaskIDs = append(backlog.TaskIDs, id)
			placed[id] = true
		}
	}

	return merged
}

// findBacklog returns a pointer into cols for the backlog column, or nil.
func findBacklog(cols []Column) *Column {
	for i := range cols {
		if strings.EqualFold(cols[i].ID, backlogColumnID) || strings.EqualFold(cols[i].Title, backlogColumnID) {
			return &cols[i]
		}
	}
	return nil
}

// orphanOrder lists every merged task ID left unplaced by the rebuilt layout:
// first those present in the local column layout, in layout order, then any
// task in no layout on either side, in ID order so the sweep is deterministic.
func orphanOrder(local *Board, tasks map[string]Task, placed map[string]bool) []string {
	var out []string
	seen := make(map[string]bool, len(tasks))

	for _, col := range local.Columns {
		for _, id := range col.TaskIDs {
			if placed[id] || seen[id] {
				continue
			}
			if _, ok := tasks[id]; !ok {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}

	var rest []string
	for id := range tasks {
		if placed[id] || seen[id] {
			continue
		}
		rest = append(rest, id)
	}
	sort.Strings(rest)
	return append(out, rest...)
}
