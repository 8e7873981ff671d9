package config

import "fmt"

// ValidatableConfig is implemented by every command configuration.
type ValidatableConfig interface {
	Validate() []error
}

// Validate collects the errors of all cfgs.
func Validate(cfgs ...ValidatableConfig) []error {
	var out []error
	for _, cfg := range cfgs {
		out = append(out, cfg.Validate()...)
	}
	return out
}

// checkProtocol and checkPort append to errs and return it, so a Validate
// method reads as one chain of checks.
func checkProtocol(errs []error, name string, p Protocol) []error {
	if p.String() == "" {
		return append(errs, fmt.Errorf("'%s' must be udp|ws", name))
	}
	return errs
}

// A listener may take port 0 and let the engine choose; a sender can not.
func checkPort(errs []error, name string, port int, ephemeral bool) []error {
	lo := 1
	if ephemeral {
		lo = 0
	}
	if port < lo || port > 65535 {
		return append(errs, fmt.Errorf("'%s' must be in [%d, 65535], got %d", name, lo, port))
	}
	return errs
}
