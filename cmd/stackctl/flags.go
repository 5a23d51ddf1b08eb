package main

// rootFlags holds persistent flags shared by every subcommand, mirroring
// the teacher's rootFlags shape (cmd/streamy/flags.go / root.go).
type rootFlags struct {
	configPath string
	envPath    string
	overrides  map[string]string
	region     string
	profile    string
	verbosity  int
}
