package sim

// FrameStats aggregates per-run counters for the render log.
type FrameStats struct {
	Frames  int `yaml:"frames"`
	Live    int `yaml:"live"`
	Spawned int `yaml:"spawned"`
	Expired int `yaml:"expired"`
	Tracers int `yaml:"tracers"`
}
