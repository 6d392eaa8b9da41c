package jobs

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zaqqye/clubhub_backend/internal/models"
)

// ArtifactKey names the result field that holds the storage key of a file a
// job produced. Such files are private and only served through ArtifactURL.
const ArtifactKey = "artifact_key"

// ArtifactURL is the authenticated download route for a job's artifact.
func ArtifactURL(apiBaseURL, jobID string) string {
	return strings.TrimSuffix(apiBaseURL, "/") + "/api/v1/admin/jobs/" + jobID + "/artifact"
}

// Artifact returns the storage key recorded on job, if any.
func Artifact(job models.Job) (string, bool) {
	if len(job.Result) == 0 {
		return "", false
	}
	key := gjson.GetBytes(job.Result, ArtifactKey).String()
	return key, key != ""
}
