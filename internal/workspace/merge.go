package workspace

import "sort"

// maxHistory caps terminal scrollback carried across a merge.
const maxHistory = 100

// mergeWorkspaces combines two forks of the same workspace:
//
//   - open files: union by path, the local cursor wins for files open on
//     both sides;
//   - layout: local wins, it reflects what the user is looking at;
//   - terminals: merged by ID, histories concatenated local-then-remote and
//     capped at the most recent maxHistory lines;
//   - git: remote wins, the remote side is assumed closer to the repository.
func mergeWorkspaces(local, remote *Workspace) *Workspace {
	merged := &Workspace{
		ID:     local.ID,
		Layout: local.Layout,
		Git:    remote.Git,
	}

	merged.OpenFiles = unionFiles(local.OpenFiles, remote.OpenFiles)
	merged.Terminals = unionTerminals(local.Terminals, remote.Terminals)
	return merged
}

// unionFiles merges open files by path. Local entries keep their order and
// cursor; remote-only files are appended in path order.
func unionFiles(local, remote []OpenFile) []OpenFile {
	out := make([]OpenFile, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))

	for _, f := range local {
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}

	var extra []OpenFile
	for _, f := range remote {
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		extra = append(extra, f)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Path < extra[j].Path })
	return append(out, extra...)
}

// unionTerminals merges terminals by ID. For a terminal present on both
// sides the histories are concatenated local-then-remote; remote-only
// terminals are appended after the local ones.
func unionTerminals(local, remote []Terminal) []Terminal {
	if len(local) == 0 && len(remote) == 0 {
		return nil
	}

	out := make([]Terminal, 0, len(local)+len(remote))
	index := make(map[string]int, len(local))

	for _, t := range local {
		index[t.ID] = len(out)
		out = append(out, Terminal{ID: t.ID, History: capHistory(t.History)})
	}
	for _, t := range remote {
		i, ok := index[t.ID]
		if !ok {
			index[t.ID] = len(out)
			out = append(out, Terminal{ID: t.ID, History: capHistory(t.History)})
			continue
		}
		out[i].History = capHistory(append(out[i].History, t.History...))
	}
	return out
}

// capHistory keeps the most recent maxHistory lines.
func capHistory(history []string) []string {
	if len(history) <= maxHistory {
		return history
	}
	return history[len(history)-maxHistory:]
}
