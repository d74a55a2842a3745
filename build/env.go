package build

var (
	// envDataDir is the environment variable that tells the coordinator
	// where to put recovery files and image staging directories if no
	// explicit path is configured.
	envDataDir = "ATOMICUPDATE_DATA_DIR"
)
