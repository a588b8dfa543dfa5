package docker

import "github.com/docker/docker/api/types/filters"

// Labels attached to every container and service racer creates.
const (
	LabelManaged     = "racer.managed"
	LabelProjectID   = "racer.project_id"
	LabelProjectName = "racer.project_name"
	LabelAppPort     = "racer.app_port"
)

// ManagedLabels returns the label set for a project's runtime objects.
func ManagedLabels(projectID, projectName string) map[string]string {
	return map[string]string{
		LabelManaged:     "true",
		LabelProjectID:   projectID,
		LabelProjectName: projectName,
	}
}

func managedFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", LabelManaged+"=true"))
}
