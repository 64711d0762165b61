package config

// PluginValidator allows external packages to inject additional config
// validation without config importing them. Only one validator may be
// registered; later calls overwrite earlier ones.
type PluginValidator func(*Config) []string

var pluginValidator PluginValidator

// RegisterPluginValidator registers a plugin-aware validator.
func RegisterPluginValidator(fn PluginValidator) {
	pluginValidator = fn
}

func pluginValidationIssues(cfg *Config) []string {
	if pluginValidator == nil || cfg == nil {
		return nil
	}
	return pluginValidator(cfg)
}
