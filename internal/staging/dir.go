package staging

import "path/filepath"

// requestIDLen matches uuid.NewString output.
const requestIDLen = 36

// TaskDir returns the working directory for one conversion attempt. The
// request id suffix keeps a retry of the same episode from sharing state with
// a crashed earlier attempt.
func TaskDir(stagingDir, episodeID, requestID string) string {
	return filepath.Join(stagingDir, episodeID+"-"+requestID)
}

// episodeIDFromDir strips the request id suffix TaskDir appends. It reports
// false for directory names TaskDir did not produce.
func episodeIDFromDir(name string) (string, bool) {
	cut := len(name) - requestIDLen - 1
	if cut < 1 || name[cut] != '-' {
		return "", false
	}
	return name[:cut], true
}
