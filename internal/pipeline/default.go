package pipeline

// DefaultPlan returns the four-agent project plan: frontend and backend in
// parallel, then tests over both, then documentation over everything.
func DefaultPlan() *Plan {
	return &Plan{
		Name:      "project",
		OutputDir: "output",
		Steps: []Step{
			{
				ID:    "frontend",
				Name:  "Generate Frontend",
				Kind:  KindArtifact,
				Agent: "frontend",
				Params: map[string]any{
					"path":    "index.html",
					"content": "<!doctype html>\n<title>app</title>\n",
				},
			},
			{
				ID:    "backend",
				Name:  "Generate Backend",
				Kind:  KindArtifact,
				Agent: "backend",
				Params: map[string]any{
					"path":    "main.go",
					"content": "package main\n\nfunc main() {}\n",
				},
			},
			{
				ID:        "tests",
				Name:      "Generate Tests",
				Kind:      KindArtifact,
				Agent:     "testing",
				DependsOn: []string{"frontend", "backend"},
				Params: map[string]any{
					"path":    "main_test.go",
					"content": "package main\n",
				},
			},
			{
				ID:        "docs",
				Name:      "Generate Documentation",
				Kind:      KindArtifact,
				Agent:     "documentation",
				DependsOn: []string{"frontend", "backend", "tests"},
				Params: map[string]any{
					"path":    "README.md",
					"content": "# app\n",
				},
			},
		},
	}
}
