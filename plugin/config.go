package plugin

// Config controls where the Manager keeps feature data.
type Config struct {
	// DataDirectory is the root directory under which each feature receives a
	// sanitised subdirectory named after it. If empty, "data" is used.
	DataDirectory string
}
