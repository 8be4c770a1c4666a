package template

import "os"

// Env supplies the process-wide tail of the resolution chain: system
// properties, then environment variables. Injecting it keeps real process
// state out of tests.
type Env interface {
	LookupProperty(name string) (string, bool)
	LookupEnv(name string) (string, bool)
}

// SystemEnv resolves properties from a fixed map and environment
// variables from the real process environment.
type SystemEnv struct {
	Props map[string]string
}

func (s SystemEnv) LookupProperty(name string) (string, bool) {
	v, ok := s.Props[name]
	return v, ok
}

func (s SystemEnv) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// OS is the default environment: no properties, real environment
// variables.
var OS Env = SystemEnv{}

// MapEnv is a fully in-memory Env for tests.
type MapEnv struct {
	Props map[string]string
	Vars  map[string]string
}

func (m MapEnv) LookupProperty(name string) (string, bool) {
	v, ok := m.Props[name]
	return v, ok
}

func (m MapEnv) LookupEnv(name string) (string, bool) {
	v, ok := m.Vars[name]
	return v, ok
}
