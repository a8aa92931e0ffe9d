package reconcile

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"workopilot/internal/domain"
)

// TasksDir is where a project keeps its legacy task documents.
func TasksDir(projectPath string) string {
	return filepath.Join(projectPath, ".workopilot", "tasks")
}

// ProjectFiles is the dry-run summary for one project.
type ProjectFiles struct {
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	Dir         string   `json:"dir"`
	Count       int      `json:"count"`
	Files       []string `json:"files,omitempty"`
}

// Scan lists legacy documents per project without writing anything.
// Projects without a path are skipped.
func (r Reconciler) Scan(ctx context.Context, projects []domain.Project) ([]ProjectFiles, error) {
	var out []ProjectFiles
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Path) == "" {
			continue
		}
		dir := TasksDir(p.Path)
		files, err := r.documentsIn(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, ProjectFiles{ProjectID: p.ID, ProjectName: p.Name, Dir: dir, Count: len(files), Files: files})
	}
	return out, nil
}

// Collect flattens a scan into the paths Reconcile should process. Projects
// sharing a directory contribute each file once.
func Collect(scan []ProjectFiles) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, pf := range scan {
		for _, f := range pf.Files {
			key := filepath.Clean(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			paths = append(paths, f)
		}
	}
	return paths
}

func (r Reconciler) documentsIn(dir string) ([]string, error) {
	ok, err := afero.DirExists(r.fs(), dir)
	if err != nil || !ok {
		return nil, err
	}
	files, err := afero.Glob(r.fs(), filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
