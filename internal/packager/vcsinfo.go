package packager

import "encoding/json"

// marshalVCSInfo builds the .cargo_vcs_info.json payload: the commit the
// package was cut from and its subdirectory within the repo, so a consumer
// of the published archive can trace it back to source (spec.md §4.5 step
// 2a).
func marshalVCSInfo(sha, pathInVCS string) ([]byte, error) {
	doc := struct {
		Git struct {
			Sha1 string `json:"sha1"`
		} `json:"git"`
		PathInVCS string `json:"path_in_vcs"`
	}{}
	doc.Git.Sha1 = sha
	doc.PathInVCS = pathInVCS
	return json.MarshalIndent(doc, "", "  ")
}
