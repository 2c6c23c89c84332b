package dynexp

// Configurator is a factory for an Object's default Params. The GUI
// configuration dialog itself is out of scope for the core (§1); only the
// ability to produce a fresh, default-populated Params instance is needed
// so a project loader or a future dialog shell can populate it.
type Configurator interface {
	MakeParams() *Params
}

// ConfiguratorFunc adapts a plain function to the Configurator interface.
type ConfiguratorFunc func() *Params

func (f ConfiguratorFunc) MakeParams() *Params { return f() }
